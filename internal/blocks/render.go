package blocks

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
)

var blockTemplates = template.Must(template.New("blocks").Parse(`
{{define "node"}}{{if .Editable}} data-node-id="{{.ID}}"{{end}}{{end}}
{{define "container"}}<main class="carta-menu"{{template "node" .}} style="{{.Style}}">{{.Children}}</main>{{end}}
{{define "header"}}<header class="carta-header"{{template "node" .}} style="{{.Style}}">
{{- if and .Show .Image}}<img class="carta-header__banner" src="{{.Image}}" alt="">{{end -}}
<h1 class="carta-header__title"{{if .Editable}} contenteditable="true" data-prop="title"{{end}}>{{.Text}}</h1>
{{- if .Secondary}}<p class="carta-header__subtitle"{{if .Editable}} contenteditable="true" data-prop="subtitle"{{end}}>{{.Secondary}}</p>{{end -}}
</header>{{end}}
{{define "navigator"}}<nav class="carta-nav"{{template "node" .}} style="{{.Style}}"><ul>
{{- range .Links}}<li><a href="#{{.ID}}">{{.Label}}</a></li>{{end -}}
</ul></nav>{{end}}
{{define "category"}}<section id="{{.ID}}" class="carta-category"{{template "node" .}} style="{{.Style}}">
{{- if .Show}}<h2 class="carta-category__name"{{if .Editable}} contenteditable="true" data-prop="name"{{end}}>{{.Text}}</h2>{{end -}}
{{- if .Secondary}}<p class="carta-category__description"{{if .Editable}} contenteditable="true" data-prop="description"{{end}}>{{.Secondary}}</p>{{end -}}
{{.Children}}</section>{{end}}
{{define "heading"}}
{{- if eq .Level 1}}<h1 class="carta-heading"{{template "node" .}}{{if .Editable}} contenteditable="true" data-prop="text"{{end}} style="{{.Style}}">{{.Text}}</h1>
{{- else if eq .Level 3}}<h3 class="carta-heading"{{template "node" .}}{{if .Editable}} contenteditable="true" data-prop="text"{{end}} style="{{.Style}}">{{.Text}}</h3>
{{- else if eq .Level 4}}<h4 class="carta-heading"{{template "node" .}}{{if .Editable}} contenteditable="true" data-prop="text"{{end}} style="{{.Style}}">{{.Text}}</h4>
{{- else}}<h2 class="carta-heading"{{template "node" .}}{{if .Editable}} contenteditable="true" data-prop="text"{{end}} style="{{.Style}}">{{.Text}}</h2>
{{- end}}{{end}}
{{define "text"}}<p class="carta-text"{{template "node" .}}{{if .Editable}} contenteditable="true" data-prop="text"{{end}} style="{{.Style}}">{{.Text}}</p>{{end}}
`))

type blockView struct {
	ID        string
	Editable  bool
	Style     template.CSS
	Children  template.HTML
	Text      string
	Secondary string
	Image     string
	Level     int
	Show      bool
	Links     []Anchor
}

func execute(name string, view blockView) (template.HTML, error) {
	var buf bytes.Buffer
	if err := blockTemplates.ExecuteTemplate(&buf, name, view); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return template.HTML(buf.String()), nil
}

func baseView(ctx RenderContext, style template.CSS) blockView {
	return blockView{ID: ctx.ID, Editable: ctx.Editable, Style: style, Children: ctx.Children}
}

func renderContainer(ctx RenderContext) (template.HTML, error) {
	var s style
	s.colors(ctx.Props)
	if pad := ctx.Props.Number("padding"); pad > 0 {
		s.add("padding", px(pad))
	}
	return execute("container", baseView(ctx, s.css()))
}

func renderHeader(ctx RenderContext) (template.HTML, error) {
	var s style
	s.typography(ctx.Props)
	s.colors(ctx.Props)
	view := baseView(ctx, s.css())
	view.Text = ctx.Props.String("title")
	view.Secondary = ctx.Props.String("subtitle")
	view.Show = ctx.Props.Bool("showBanner")
	view.Image = ctx.Props.String("bannerImage")
	return execute("header", view)
}

func renderNavigator(ctx RenderContext) (template.HTML, error) {
	var s style
	if ctx.Props.Bool("sticky") {
		s.add("position", "sticky")
		s.add("top", "0")
	}
	if size := ctx.Props.Number("fontSize"); size > 0 {
		s.add("font-size", px(size))
	}
	s.colors(ctx.Props)
	view := baseView(ctx, s.css())
	view.Links = ctx.Outline
	return execute("navigator", view)
}

func renderCategory(ctx RenderContext) (template.HTML, error) {
	var s style
	s.colors(ctx.Props)
	view := baseView(ctx, s.css())
	view.Text = ctx.Props.String("name")
	view.Secondary = ctx.Props.String("description")
	view.Show = ctx.Props.Bool("showName")
	return execute("category", view)
}

func renderHeading(ctx RenderContext) (template.HTML, error) {
	var s style
	s.typography(ctx.Props)
	s.colors(ctx.Props)
	view := baseView(ctx, s.css())
	view.Text = ctx.Props.String("text")
	view.Level = int(ctx.Props.Number("level"))
	return execute("heading", view)
}

func renderText(ctx RenderContext) (template.HTML, error) {
	var s style
	s.typography(ctx.Props)
	s.colors(ctx.Props)
	view := baseView(ctx, s.css())
	view.Text = ctx.Props.String("text")
	return execute("text", view)
}

// style collects CSS declarations. Every value added is produced from a
// parsed color, a number or an allow-listed keyword, never from raw props.
type style []string

func (s *style) add(prop, value string) {
	*s = append(*s, prop+": "+value)
}

func (s style) css() template.CSS {
	return template.CSS(strings.Join(s, "; "))
}

func (s *style) colors(p Props) {
	if c, ok := p.Color("color"); ok {
		s.add("color", c.CSS())
	}
	if c, ok := p.Color("backgroundColor"); ok {
		s.add("background-color", c.CSS())
	}
}

func (s *style) typography(p Props) {
	if family := fontFamily(p.String("fontFamily")); family != "" {
		s.add("font-family", family)
	}
	if size := p.Number("fontSize"); size > 0 {
		s.add("font-size", px(size))
	}
	if weight := fontWeight(p.String("fontWeight")); weight != "" {
		s.add("font-weight", weight)
	}
	if align := alignment(p.String("textAlign")); align != "" {
		s.add("text-align", align)
	}
}

func px(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64) + "px"
}

func fontFamily(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return ""
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '-':
		default:
			return ""
		}
	}
	return `"` + name + `", sans-serif`
}

func fontWeight(w string) string {
	for _, allowed := range fontWeights {
		if w == allowed {
			return w
		}
	}
	switch w {
	case "normal", "bold":
		return w
	}
	return ""
}

func alignment(a string) string {
	for _, allowed := range alignments {
		if a == allowed {
			return a
		}
	}
	return ""
}
