package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

type fakeIndex struct {
	results []Result
	err     error
	indexed []MenuRecord
}

func (f *fakeIndex) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f *fakeIndex) Healthy() bool { return true }

func (f *fakeIndex) Index(_ context.Context, rec MenuRecord) error {
	f.indexed = append(f.indexed, rec)
	return f.err
}

func TestBuildRecord(t *testing.T) {
	tree := document.New(blocks.Default())
	_, err := tree.Insert(document.RootID, 0, document.NodeSpec{
		Type:  blocks.Header,
		Props: blocks.Props{"title": "La Tasca", "subtitle": "Cocina de mercado"},
	})
	require.NoError(t, err)
	_, err = tree.Insert(document.RootID, 1, document.NodeSpec{
		Type:  blocks.Category,
		Props: blocks.Props{"name": "Entrantes"},
		Children: []document.NodeSpec{
			{Type: blocks.Heading, Props: blocks.Props{"text": "Croquetas"}},
			{Type: blocks.Text, Props: blocks.Props{"text": "  De jamón ibérico  "}},
		},
	})
	require.NoError(t, err)
	_, err = tree.Insert(document.RootID, 2, document.NodeSpec{Type: blocks.Category, Props: blocks.Props{"name": "Postres"}})
	require.NoError(t, err)

	rec := BuildRecord("m1", "acc-1", "La Tasca", "la-tasca", 1710016200, tree)
	assert.Equal(t, []string{"Entrantes", "Postres"}, rec.Sections)
	assert.Equal(t, "La Tasca\nCocina de mercado\nCroquetas\nDe jamón ibérico", rec.Body)
	assert.Equal(t, "acc-1", rec.AccountID)
}

func TestServiceFallsBackToPostgres(t *testing.T) {
	idx := &fakeIndex{results: []Result{{MenuID: "m1", Name: "La Tasca"}}}
	svc := NewService(nil, idx, nil)

	resp := svc.Search(context.Background(), Query{Text: "tasca"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "tasca", resp.Query)
	assert.False(t, svc.Enabled())

	idx.err = errors.New("db down")
	resp = svc.Search(context.Background(), Query{Text: "tasca"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexMenuWritesPostgres(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewService(nil, idx, nil)
	require.NoError(t, svc.IndexMenu(context.Background(), MenuRecord{ID: "m1"}))
	require.Len(t, idx.indexed, 1)
	assert.Equal(t, "m1", idx.indexed[0].ID)
}
