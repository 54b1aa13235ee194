package render

import (
	"bytes"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"time"

	"golang.org/x/crypto/blake2b"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	pageTemplate    *template.Template
	failureTemplate *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}
	pageTemplate = mustLoad("menu.html", fallbackPage, funcMap)
	failureTemplate = mustLoad("failure.html", fallbackFailure, funcMap)
}

func mustLoad(name, fallback string, funcMap template.FuncMap) *template.Template {
	content, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return template.Must(template.New(name).Funcs(funcMap).Parse(fallback))
	}
	return template.Must(template.New(name).Funcs(funcMap).Parse(string(content)))
}

// PageData fills the HTML shell around a rendered body.
type PageData struct {
	Title       string
	Lang        string
	Body        template.HTML
	PublishedAt *time.Time
	// Print switches to paper-friendly styles for PDF export.
	Print bool
	// Preview adds the editor outline styles.
	Preview bool
}

func Page(data PageData) ([]byte, error) {
	if data.Lang == "" {
		data.Lang = "es"
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return buf.Bytes(), nil
}

// FailurePage is shown instead of a menu whose document does not load.
func FailurePage(title string) []byte {
	var buf bytes.Buffer
	if err := failureTemplate.Execute(&buf, struct{ Title string }{Title: title}); err != nil {
		return []byte("<!DOCTYPE html><title>Menu unavailable</title><p>This menu failed to load.</p>")
	}
	return buf.Bytes()
}

// Digest is a strong ETag value for rendered output.
func Digest(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:16])
}

const fallbackPage = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}}</title>
</head>
<body>{{.Body}}</body>
</html>`

const fallbackFailure = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body><p>This menu failed to load.</p></body>
</html>`
