package render

import (
	"errors"
	"fmt"
	"html/template"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carta/api/internal/blocks"
	"carta/api/internal/document"
)

func sequentialIDs() document.Option {
	n := 0
	return document.WithIDGenerator(func() document.NodeID {
		n++
		return document.NodeID(fmt.Sprintf("n%d", n))
	})
}

// menu builds ROOT > [header, navigator, category "Entrantes" > [text], category "Postres"].
func menu(t *testing.T) *document.Store {
	t.Helper()
	s := document.New(blocks.Default(), sequentialIDs())
	_, err := s.Insert(document.RootID, 0, document.NodeSpec{Type: blocks.Header})
	require.NoError(t, err)
	_, err = s.Insert(document.RootID, 1, document.NodeSpec{Type: blocks.Navigator})
	require.NoError(t, err)
	_, err = s.Insert(document.RootID, 2, document.NodeSpec{
		Type:  blocks.Category,
		Props: blocks.Props{"name": "Entrantes"},
		Children: []document.NodeSpec{
			{Type: blocks.Text, Props: blocks.Props{"text": "Croquetas caseras"}},
		},
	})
	require.NoError(t, err)
	_, err = s.Insert(document.RootID, 3, document.NodeSpec{Type: blocks.Category, Props: blocks.Props{"name": "Postres"}})
	require.NoError(t, err)
	return s
}

func TestOutlineFollowsDocumentOrder(t *testing.T) {
	s := menu(t)
	outline, err := Outline(s)
	require.NoError(t, err)
	assert.Equal(t, []blocks.Anchor{
		{ID: "n3", Label: "Entrantes"},
		{ID: "n5", Label: "Postres"},
	}, outline)

	require.NoError(t, s.Move("n5", document.RootID, 2))
	outline, err = Outline(s)
	require.NoError(t, err)
	require.Len(t, outline, 2)
	assert.Equal(t, "Postres", outline[0].Label)
}

func TestBodyPublic(t *testing.T) {
	body, err := Body(menu(t), Public)
	require.NoError(t, err)
	html := string(body)

	assert.Contains(t, html, "Croquetas caseras")
	assert.Contains(t, html, `href="#n3"`)
	assert.Contains(t, html, `id="n5"`)
	assert.NotContains(t, html, "data-node-id")
	assert.NotContains(t, html, "contenteditable")
	assert.Less(t, strings.Index(html, "Entrantes"), strings.Index(html, "Croquetas caseras"))
}

func TestBodyPreviewMarksNodes(t *testing.T) {
	body, err := Body(menu(t), Preview)
	require.NoError(t, err)
	html := string(body)

	assert.Contains(t, html, `data-node-id="ROOT"`)
	assert.Contains(t, html, `data-node-id="n4"`)
	assert.Contains(t, html, `contenteditable="true"`)
}

func TestBodyEscapesText(t *testing.T) {
	s := document.New(blocks.Default(), sequentialIDs())
	_, err := s.Insert(document.RootID, 0, document.NodeSpec{Type: blocks.Text, Props: blocks.Props{"text": "<script>alert(1)</script>"}})
	require.NoError(t, err)

	body, err := Body(s, Public)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "<script>")
	assert.Contains(t, string(body), "&lt;script&gt;")
}

func TestBodyFailsAsAWhole(t *testing.T) {
	broken := blocks.MustNewRegistry(
		blocks.Entry{
			Type:   blocks.Container,
			Rules:  blocks.Rules{Accepts: blocks.AcceptTypes("Broken")},
			Render: func(ctx blocks.RenderContext) (template.HTML, error) { return ctx.Children, nil },
		},
		blocks.Entry{
			Type:   "Broken",
			Rules:  blocks.Rules{Draggable: true, Deletable: true},
			Render: func(blocks.RenderContext) (template.HTML, error) { return "", errors.New("bad props") },
		},
	)
	s := document.New(broken, sequentialIDs())
	_, err := s.Insert(document.RootID, 0, document.NodeSpec{Type: "Broken"})
	require.NoError(t, err)

	body, err := Body(s, Public)
	assert.ErrorIs(t, err, ErrRender)
	assert.Empty(t, body)
}

func TestPage(t *testing.T) {
	body, err := Body(menu(t), Public)
	require.NoError(t, err)
	at := time.Date(2024, 3, 9, 20, 30, 0, 0, time.UTC)

	page, err := Page(PageData{Title: "La Tasca", Body: body, PublishedAt: &at})
	require.NoError(t, err)
	out := string(page)
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, `<html lang="es">`)
	assert.Contains(t, out, "<title>La Tasca</title>")
	assert.Contains(t, out, "Croquetas caseras")
	assert.Contains(t, out, "2024-03-09")
	assert.NotContains(t, out, "@page")

	printed, err := Page(PageData{Title: "La Tasca", Body: body, Print: true})
	require.NoError(t, err)
	assert.Contains(t, string(printed), "@page")
}

func TestFailurePage(t *testing.T) {
	out := string(FailurePage("La Tasca"))
	assert.Contains(t, out, "failed to load")
	assert.Contains(t, out, "La Tasca")
}

func TestDigestIsStable(t *testing.T) {
	a := Digest([]byte("<p>hola</p>"))
	assert.Equal(t, a, Digest([]byte("<p>hola</p>")))
	assert.NotEqual(t, a, Digest([]byte("<p>adiós</p>")))
	assert.Len(t, a, 32)
}
