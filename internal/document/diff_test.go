package document

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carta/api/internal/blocks"
)

func TestDiffIdenticalTrees(t *testing.T) {
	s := menuStore(t)
	assert.Empty(t, Diff(s, s.Clone()))
}

func TestDiffReportsEachKind(t *testing.T) {
	published := menuStore(t)
	draft := published.Clone()

	_, err := draft.SetProp("n3", func(p blocks.Props) { p["text"] = "Cremas" })
	require.NoError(t, err)
	_, err = draft.SetCustom("n2", "displayName", "Primeros")
	require.NoError(t, err)
	require.NoError(t, draft.Move("n4", "n5", 0))
	_, err = draft.Remove("n1")
	require.NoError(t, err)
	added, err := draft.Insert(RootID, 0, NodeSpec{Type: blocks.Navigator})
	require.NoError(t, err)

	got := Diff(published, draft)
	want := []Difference{
		{Kind: DiffRemoved, ID: "n1"},
		{Kind: DiffCustom, ID: "n2", Keys: []string{"displayName"}},
		{Kind: DiffProps, ID: "n3", Keys: []string{"text"}},
		{Kind: DiffMoved, ID: "n4"},
		{Kind: DiffAdded, ID: added},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Diff mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffReorderWithinParent(t *testing.T) {
	published := menuStore(t)
	draft := published.Clone()
	require.NoError(t, draft.Move("n5", RootID, 1))

	got := Diff(published, draft)
	require.NotEmpty(t, got)
	for _, d := range got {
		assert.Equal(t, DiffMoved, d.Kind)
	}
}

func TestDiffIgnoresExplicitDefaults(t *testing.T) {
	reg := blocks.Default()
	root := Node{ID: RootID, Type: blocks.Container, Children: []NodeID{"a"}}
	sparse := Node{ID: "a", Type: blocks.Text, Parent: RootID, Props: blocks.Props{"text": "Hola"}}
	full := Node{ID: "a", Type: blocks.Text, Parent: RootID, Props: reg.WithDefaults(blocks.Text, blocks.Props{"text": "Hola"})}

	before, err := Restore(reg, []Node{root, sparse})
	require.NoError(t, err)
	after, err := Restore(reg, []Node{root, full})
	require.NoError(t, err)
	assert.Empty(t, Diff(before, after))
}

func TestDiffAgainstNothing(t *testing.T) {
	s := menuStore(t)
	got := Diff(nil, s)
	assert.Len(t, got, s.Len())
	for _, d := range got {
		assert.Equal(t, DiffAdded, d.Kind)
	}
}
