package document

import (
	"errors"
	"fmt"
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carta/api/internal/blocks"
)

func noopRender(blocks.RenderContext) (template.HTML, error) { return "", nil }

func acceptAll(blocks.Type) bool { return true }

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() NodeID {
		n++
		return NodeID(fmt.Sprintf("n%d", n))
	})
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(blocks.Default(), sequentialIDs())
}

// menuStore builds ROOT > [header n1, category n2 > [heading n3, text n4], category n5].
func menuStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	_, err := s.Insert(RootID, 0, NodeSpec{Type: blocks.Header})
	require.NoError(t, err)
	_, err = s.Insert(RootID, 1, NodeSpec{
		Type:  blocks.Category,
		Props: blocks.Props{"name": "Entradas"},
		Children: []NodeSpec{
			{Type: blocks.Heading, Props: blocks.Props{"text": "Sopas"}},
			{Type: blocks.Text},
		},
	})
	require.NoError(t, err)
	_, err = s.Insert(RootID, 2, NodeSpec{Type: blocks.Category, Props: blocks.Props{"name": "Postres"}})
	require.NoError(t, err)
	return s
}

func childrenOf(t *testing.T, s *Store, id NodeID) []NodeID {
	t.Helper()
	children, err := s.Children(id)
	require.NoError(t, err)
	return children
}

func TestNewStoreHasOnlyRoot(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, 1, s.Len())
	root := s.Root()
	assert.Equal(t, RootID, root.ID)
	assert.Equal(t, blocks.Container, root.Type)
	assert.Empty(t, root.Parent)
	assert.Equal(t, blocks.Default().Defaults(blocks.Container), root.Props)
	require.NoError(t, s.Validate())
}

func TestInsertNestedSpec(t *testing.T) {
	s := menuStore(t)
	assert.Equal(t, 6, s.Len())
	assert.Equal(t, []NodeID{"n1", "n2", "n5"}, childrenOf(t, s, RootID))
	assert.Equal(t, []NodeID{"n3", "n4"}, childrenOf(t, s, "n2"))

	heading, err := s.Get("n3")
	require.NoError(t, err)
	assert.Equal(t, NodeID("n2"), heading.Parent)
	assert.Equal(t, "Sopas", heading.Props["text"])
	assert.Equal(t, float64(2), heading.Props["level"], "defaults fill unspecified props")
	require.NoError(t, s.Validate())
}

func TestInsertReportsCreatedIDs(t *testing.T) {
	s := newTestStore(t)
	change, err := s.Apply(Insert{Parent: RootID, Index: 0, Spec: NodeSpec{
		Type:     blocks.Category,
		Children: []NodeSpec{{Type: blocks.Text}, {Type: blocks.Text}},
	}})
	require.NoError(t, err)
	assert.Equal(t, ChangeInserted, change.Kind)
	assert.Equal(t, NodeID("n1"), change.ID)
	assert.Equal(t, []NodeID{"n1", "n2", "n3"}, change.Created)
}

func TestInsertErrorsLeaveStoreUnchanged(t *testing.T) {
	cases := []struct {
		name   string
		parent NodeID
		index  int
		spec   NodeSpec
		want   error
	}{
		{name: "missing parent", parent: "nope", index: 0, spec: NodeSpec{Type: blocks.Text}, want: ErrInvalidParent},
		{name: "missing parent is also not found", parent: "nope", index: 0, spec: NodeSpec{Type: blocks.Text}, want: ErrNodeNotFound},
		{name: "index past end", parent: RootID, index: 4, spec: NodeSpec{Type: blocks.Text}, want: ErrIndexOutOfRange},
		{name: "negative index", parent: RootID, index: -1, spec: NodeSpec{Type: blocks.Text}, want: ErrIndexOutOfRange},
		{name: "text refuses children", parent: "n4", index: 0, spec: NodeSpec{Type: blocks.Text}, want: ErrInvalidParent},
		{name: "text refuses children at any index", parent: "n4", index: 1, spec: NodeSpec{Type: blocks.Text}, want: ErrInvalidParent},
		{name: "category refuses header", parent: "n2", index: 0, spec: NodeSpec{Type: blocks.Header}, want: ErrInvalidParent},
		{name: "nested child refused", parent: RootID, index: 0, spec: NodeSpec{
			Type:     blocks.Category,
			Children: []NodeSpec{{Type: blocks.Text}, {Type: blocks.Navigator}},
		}, want: ErrInvalidParent},
		{name: "unknown type", parent: RootID, index: 0, spec: NodeSpec{Type: "Carousel"}, want: blocks.ErrUnknownBlockType},
		{name: "unencodable prop", parent: RootID, index: 0, spec: NodeSpec{Type: blocks.Text, Props: blocks.Props{"x": make(chan int)}}, want: ErrInvalidProps},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := menuStore(t)
			before := s.Clone()
			_, err := s.Insert(tc.parent, tc.index, tc.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			var mutErr *MutationError
			assert.True(t, errors.As(err, &mutErr))
			assert.True(t, before.Equal(s), "store changed after failed insert")
		})
	}
}

func TestInsertAtEndAndMiddle(t *testing.T) {
	s := menuStore(t)
	id, err := s.Insert(RootID, 3, NodeSpec{Type: blocks.Text})
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"n1", "n2", "n5", id}, childrenOf(t, s, RootID))

	mid, err := s.Insert(RootID, 1, NodeSpec{Type: blocks.Navigator})
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"n1", mid, "n2", "n5", id}, childrenOf(t, s, RootID))
}

func TestMove(t *testing.T) {
	t.Run("reorder within parent uses post-detach index", func(t *testing.T) {
		s := menuStore(t)
		require.NoError(t, s.Move("n1", RootID, 2))
		assert.Equal(t, []NodeID{"n2", "n5", "n1"}, childrenOf(t, s, RootID))
	})
	t.Run("to front", func(t *testing.T) {
		s := menuStore(t)
		require.NoError(t, s.Move("n5", RootID, 0))
		assert.Equal(t, []NodeID{"n5", "n1", "n2"}, childrenOf(t, s, RootID))
	})
	t.Run("across parents", func(t *testing.T) {
		s := menuStore(t)
		require.NoError(t, s.Move("n3", "n5", 0))
		assert.Equal(t, []NodeID{"n4"}, childrenOf(t, s, "n2"))
		assert.Equal(t, []NodeID{"n3"}, childrenOf(t, s, "n5"))
		moved, err := s.Get("n3")
		require.NoError(t, err)
		assert.Equal(t, NodeID("n5"), moved.Parent)
		require.NoError(t, s.Validate())
	})
	t.Run("out of a category to the root", func(t *testing.T) {
		s := menuStore(t)
		require.NoError(t, s.Move("n4", RootID, 3))
		assert.Equal(t, []NodeID{"n1", "n2", "n5", "n4"}, childrenOf(t, s, RootID))
	})
}

func TestMoveErrors(t *testing.T) {
	s := menuStore(t)

	cases := []struct {
		name   string
		id     NodeID
		parent NodeID
		index  int
		want   error
	}{
		{name: "missing node", id: "zz", parent: RootID, index: 0, want: ErrNodeNotFound},
		{name: "missing parent", id: "n3", parent: "zz", index: 0, want: ErrNodeNotFound},
		{name: "root", id: RootID, parent: "n2", index: 0, want: ErrNotDraggable},
		{name: "into itself", id: "n2", parent: "n2", index: 0, want: ErrCycleDetected},
		{name: "category into category", id: "n2", parent: "n5", index: 0, want: ErrInvalidParent},
		{name: "header into category", id: "n1", parent: "n5", index: 0, want: ErrInvalidParent},
		{name: "index past end", id: "n3", parent: "n5", index: 1, want: ErrIndexOutOfRange},
		{name: "same parent index past end", id: "n1", parent: RootID, index: 3, want: ErrIndexOutOfRange},
		{name: "negative index", id: "n3", parent: "n5", index: -1, want: ErrIndexOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := s.Clone()
			err := s.Move(tc.id, tc.parent, tc.index)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, before.Equal(s))
		})
	}
}

func TestMoveIntoDescendantIsCycle(t *testing.T) {
	reg := blocks.MustNewRegistry(
		blocks.Entry{Type: blocks.Container, Render: noopRender, Rules: blocks.Rules{Accepts: acceptAll}},
		blocks.Entry{Type: "Box", Render: noopRender, Rules: blocks.Rules{Draggable: true, Deletable: true, Accepts: acceptAll}},
	)
	s := New(reg, sequentialIDs())
	outer, err := s.Insert(RootID, 0, NodeSpec{Type: "Box", Children: []NodeSpec{{Type: "Box"}}})
	require.NoError(t, err)
	inner := childrenOf(t, s, outer)[0]

	err = s.Move(outer, inner, 0)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestRemove(t *testing.T) {
	s := menuStore(t)
	removed, err := s.Remove("n2")
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"n2", "n3", "n4"}, removed)
	assert.Equal(t, []NodeID{"n1", "n5"}, childrenOf(t, s, RootID))
	assert.Equal(t, 3, s.Len())
	for _, id := range removed {
		_, err := s.Get(id)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	}
	require.NoError(t, s.Validate())
}

func TestRemoveErrors(t *testing.T) {
	s := menuStore(t)
	_, err := s.Remove(RootID)
	assert.ErrorIs(t, err, ErrNotDeletable)
	_, err = s.Remove("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Equal(t, 6, s.Len())
}

func TestSetPropMergesAndResets(t *testing.T) {
	s := menuStore(t)
	change, err := s.SetProp("n4", func(p blocks.Props) {
		p["text"] = "Caldo de pollo"
		p["fontSize"] = 18
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fontSize", "text"}, change.Keys)

	n, err := s.Get("n4")
	require.NoError(t, err)
	assert.Equal(t, "Caldo de pollo", n.Props["text"])
	assert.Equal(t, float64(18), n.Props["fontSize"], "values are stored in canonical form")
	assert.Equal(t, "Inter", n.Props["fontFamily"], "untouched keys survive")

	change, err = s.SetProp("n4", func(p blocks.Props) {
		p["text"] = nil
		delete(p, "fontSize")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fontSize", "text"}, change.Keys)
	n, err = s.Get("n4")
	require.NoError(t, err)
	assert.Equal(t, "Texto", n.Props["text"])
	assert.Equal(t, float64(16), n.Props["fontSize"])
}

func TestSetPropUpdaterSeesCopy(t *testing.T) {
	s := menuStore(t)
	var leaked blocks.Props
	_, err := s.SetProp("n4", func(p blocks.Props) {
		leaked = p
		p["text"] = "uno"
	})
	require.NoError(t, err)
	leaked["text"] = "dos"

	n, err := s.Get("n4")
	require.NoError(t, err)
	assert.Equal(t, "uno", n.Props["text"])
}

func TestSetPropNoChange(t *testing.T) {
	s := menuStore(t)
	change, err := s.SetProp("n4", func(p blocks.Props) { p["text"] = "Texto" })
	require.NoError(t, err)
	assert.Empty(t, change.Keys)
}

func TestSetPropErrors(t *testing.T) {
	s := menuStore(t)
	_, err := s.SetProp("missing", func(blocks.Props) {})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	before := s.Clone()
	_, err = s.SetProp("n4", func(p blocks.Props) {
		p["text"] = "ok"
		p["bad"] = func() {}
	})
	assert.ErrorIs(t, err, ErrInvalidProps)
	assert.True(t, before.Equal(s))
}

func TestSetCustom(t *testing.T) {
	s := menuStore(t)
	_, err := s.SetCustom("n2", "displayName", "Primeros")
	require.NoError(t, err)
	n, err := s.Get("n2")
	require.NoError(t, err)
	assert.Equal(t, "Primeros", n.DisplayName())

	_, err = s.SetCustom("n2", "displayName", nil)
	require.NoError(t, err)
	n, err = s.Get("n2")
	require.NoError(t, err)
	assert.Equal(t, "Category", n.DisplayName())

	_, err = s.SetCustom("missing", "displayName", "x")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestReadsReturnCopies(t *testing.T) {
	s := menuStore(t)
	n, err := s.Get("n2")
	require.NoError(t, err)
	n.Props["name"] = "mutated"
	n.Children[0] = "evil"

	again, err := s.Get("n2")
	require.NoError(t, err)
	assert.Equal(t, "Entradas", again.Props["name"])
	assert.Equal(t, NodeID("n3"), again.Children[0])

	children := childrenOf(t, s, RootID)
	children[0] = "evil"
	assert.Equal(t, NodeID("n1"), childrenOf(t, s, RootID)[0])
}

func TestWalkRenderOrder(t *testing.T) {
	s := menuStore(t)
	var order []NodeID
	var depths []int
	require.NoError(t, s.Walk(func(n Node, depth int) error {
		order = append(order, n.ID)
		depths = append(depths, depth)
		return nil
	}))
	assert.Equal(t, []NodeID{RootID, "n1", "n2", "n3", "n4", "n5"}, order)
	assert.Equal(t, []int{0, 1, 1, 2, 2, 1}, depths)

	stop := errors.New("stop")
	count := 0
	err := s.Walk(func(Node, int) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, count)
}

func TestCloneIsIndependent(t *testing.T) {
	s := menuStore(t)
	clone := s.Clone()
	require.True(t, clone.Equal(s))

	_, err := clone.Remove("n5")
	require.NoError(t, err)
	assert.False(t, clone.Equal(s))
	assert.True(t, s.Has("n5"))
}

func TestRestoreValidates(t *testing.T) {
	reg := blocks.Default()
	root := Node{ID: RootID, Type: blocks.Container, Children: []NodeID{"a"}}
	text := Node{ID: "a", Type: blocks.Text, Parent: RootID}

	s, err := Restore(reg, []Node{root, text})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	_, err = Restore(reg, []Node{text})
	assert.ErrorIs(t, err, ErrMalformedTree)

	orphan := Node{ID: "b", Type: blocks.Text, Parent: RootID}
	_, err = Restore(reg, []Node{root, text, orphan})
	assert.ErrorIs(t, err, ErrMalformedTree)

	wrongParent := Node{ID: "a", Type: blocks.Text, Parent: "b"}
	_, err = Restore(reg, []Node{root, wrongParent})
	assert.ErrorIs(t, err, ErrMalformedTree)

	unknown := Node{ID: "a", Type: "Carousel", Parent: RootID}
	_, err = Restore(reg, []Node{root, unknown})
	assert.ErrorIs(t, err, blocks.ErrUnknownBlockType)
}

func TestNewNodeIDIsUnique(t *testing.T) {
	seen := make(map[NodeID]bool)
	for i := 0; i < 1000; i++ {
		id := NewNodeID()
		require.Len(t, string(id), 26)
		require.False(t, seen[id])
		seen[id] = true
	}
}
