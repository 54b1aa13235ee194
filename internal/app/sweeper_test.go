package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	_, err := NewSweeper(h.svc, "every now and then", 0)
	assert.ErrorContains(t, err, "schedule editor sweep")
}

func TestSweeperStartsAndStops(t *testing.T) {
	h := newHarness(t)
	sweeper, err := NewSweeper(h.svc, "@every 1h", 0)
	require.NoError(t, err)
	sweeper.Start()
	sweeper.Stop()
}
