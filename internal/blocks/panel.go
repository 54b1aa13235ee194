package blocks

// FieldKind tells the settings UI which input to mount for a prop.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextArea FieldKind = "textarea"
	FieldColor    FieldKind = "color"
	FieldFont     FieldKind = "font"
	FieldNumber   FieldKind = "number"
	FieldToggle   FieldKind = "toggle"
	FieldSelect   FieldKind = "select"
)

type Field struct {
	Prop    string    `json:"prop"`
	Label   string    `json:"label"`
	Kind    FieldKind `json:"kind"`
	Options []string  `json:"options,omitempty"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	// Debounced fields commit through the text debouncer instead of
	// immediately.
	Debounced bool `json:"debounced,omitempty"`
}

type Section struct {
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
}

// Panel describes the settings UI of a block type.
type Panel struct {
	Sections []Section `json:"sections"`
}

// Props lists every prop the panel edits.
func (p *Panel) Props() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, section := range p.Sections {
		for _, field := range section.Fields {
			out = append(out, field.Prop)
		}
	}
	return out
}

// Field returns the panel field bound to prop.
func (p *Panel) Field(prop string) (Field, bool) {
	if p == nil {
		return Field{}, false
	}
	for _, section := range p.Sections {
		for _, field := range section.Fields {
			if field.Prop == prop {
				return field, true
			}
		}
	}
	return Field{}, false
}

func bounds(min, max float64) (*float64, *float64) {
	return &min, &max
}

func numberField(prop, label string, min, max float64) Field {
	lo, hi := bounds(min, max)
	return Field{Prop: prop, Label: label, Kind: FieldNumber, Min: lo, Max: hi}
}

var fontFamilies = []string{"Inter", "Roboto", "Lora", "Playfair Display", "Montserrat", "Open Sans", "Merriweather"}

var fontWeights = []string{"300", "400", "500", "600", "700", "800"}

var alignments = []string{"left", "center", "right"}

func typographySection() Section {
	return Section{
		Title: "Typography",
		Fields: []Field{
			{Prop: "fontFamily", Label: "Font", Kind: FieldFont, Options: fontFamilies},
			numberField("fontSize", "Size", 8, 96),
			{Prop: "fontWeight", Label: "Weight", Kind: FieldSelect, Options: fontWeights},
			{Prop: "textAlign", Label: "Alignment", Kind: FieldSelect, Options: alignments},
		},
	}
}

func colorSection(fields ...Field) Section {
	return Section{Title: "Colors", Fields: fields}
}
