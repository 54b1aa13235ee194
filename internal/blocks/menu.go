package blocks

import (
	"sync"
)

const (
	Container Type = "Container"
	Header    Type = "Header"
	Navigator Type = "Navigator"
	Category  Type = "Category"
	Heading   Type = "Heading"
	Text      Type = "Text"
)

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of the menu builder. It is shared and
// immutable.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = MustNewRegistry(
			containerEntry(),
			headerEntry(),
			navigatorEntry(),
			categoryEntry(),
			headingEntry(),
			textEntry(),
		)
	})
	return defaultRegistry
}

var legacyColors = chain(
	renameColor("fontColor", "color"),
	renameColor("background", "backgroundColor"),
)

func containerEntry() Entry {
	return Entry{
		Type:        Container,
		DisplayName: "Page",
		Defaults: Props{
			"backgroundColor": RGBA(255, 255, 255, 1).Prop(),
			"padding":         float64(16),
		},
		Rules: Rules{
			Accepts: AcceptTypes(Header, Navigator, Category, Heading, Text),
		},
		Render:   renderContainer,
		Upgrades: map[int]Upgrade{1: legacyColors},
	}
}

func headerEntry() Entry {
	return Entry{
		Type:        Header,
		DisplayName: "Header",
		Defaults: Props{
			"title":           "Mi Restaurante",
			"subtitle":        "",
			"showBanner":      true,
			"bannerImage":     "",
			"textAlign":       "center",
			"fontFamily":      "Playfair Display",
			"fontSize":        float64(36),
			"fontWeight":      "700",
			"color":           RGBA(33, 33, 33, 1).Prop(),
			"backgroundColor": RGBA(250, 247, 242, 1).Prop(),
		},
		Rules:  Rules{Draggable: true, Deletable: true},
		Render: renderHeader,
		Settings: &Panel{Sections: []Section{
			{Title: "Content", Fields: []Field{
				{Prop: "title", Label: "Title", Kind: FieldText, Debounced: true},
				{Prop: "subtitle", Label: "Subtitle", Kind: FieldText, Debounced: true},
				{Prop: "showBanner", Label: "Show banner", Kind: FieldToggle},
				{Prop: "bannerImage", Label: "Banner image URL", Kind: FieldText},
			}},
			typographySection(),
			colorSection(
				Field{Prop: "color", Label: "Text", Kind: FieldColor},
				Field{Prop: "backgroundColor", Label: "Background", Kind: FieldColor},
			),
		}},
		Upgrades: map[int]Upgrade{1: chain(legacyColors, renameKey("banner", "showBanner"))},
	}
}

func navigatorEntry() Entry {
	return Entry{
		Type:        Navigator,
		DisplayName: "Navigator",
		Defaults: Props{
			"sticky":          true,
			"fontSize":        float64(14),
			"color":           RGBA(33, 33, 33, 1).Prop(),
			"backgroundColor": RGBA(255, 255, 255, 0.95).Prop(),
		},
		Rules:  Rules{Draggable: true, Deletable: true},
		Render: renderNavigator,
		Settings: &Panel{Sections: []Section{
			{Title: "Behavior", Fields: []Field{
				{Prop: "sticky", Label: "Stick to top", Kind: FieldToggle},
				numberField("fontSize", "Size", 10, 32),
			}},
			colorSection(
				Field{Prop: "color", Label: "Links", Kind: FieldColor},
				Field{Prop: "backgroundColor", Label: "Background", Kind: FieldColor},
			),
		}},
		Upgrades: map[int]Upgrade{1: legacyColors},
	}
}

func categoryEntry() Entry {
	return Entry{
		Type:        Category,
		DisplayName: "Category",
		Defaults: Props{
			"name":            "Categoría",
			"description":     "",
			"showName":        true,
			"color":           RGBA(33, 33, 33, 1).Prop(),
			"backgroundColor": RGBA(255, 255, 255, 0).Prop(),
		},
		Rules: Rules{
			Draggable: true,
			Deletable: true,
			Accepts:   AcceptTypes(Heading, Text),
		},
		Render: renderCategory,
		Settings: &Panel{Sections: []Section{
			{Title: "Content", Fields: []Field{
				{Prop: "name", Label: "Name", Kind: FieldText, Debounced: true},
				{Prop: "description", Label: "Description", Kind: FieldTextArea, Debounced: true},
				{Prop: "showName", Label: "Show name", Kind: FieldToggle},
			}},
			colorSection(
				Field{Prop: "color", Label: "Text", Kind: FieldColor},
				Field{Prop: "backgroundColor", Label: "Background", Kind: FieldColor},
			),
		}},
		Upgrades: map[int]Upgrade{1: legacyColors},
		Landmark: func(p Props) (string, bool) {
			return p.String("name"), true
		},
	}
}

func headingEntry() Entry {
	return Entry{
		Type:        Heading,
		DisplayName: "Heading",
		Defaults: Props{
			"text":       "Título",
			"level":      float64(2),
			"fontFamily": "Inter",
			"fontSize":   float64(28),
			"fontWeight": "700",
			"textAlign":  "left",
			"color":      RGBA(33, 33, 33, 1).Prop(),
		},
		Rules:  Rules{Draggable: true, Deletable: true},
		Render: renderHeading,
		Settings: &Panel{Sections: []Section{
			{Title: "Content", Fields: []Field{
				{Prop: "text", Label: "Text", Kind: FieldText, Debounced: true},
				numberField("level", "Level", 1, 4),
			}},
			typographySection(),
			colorSection(Field{Prop: "color", Label: "Text", Kind: FieldColor}),
		}},
		Upgrades: map[int]Upgrade{1: legacyColors},
	}
}

func textEntry() Entry {
	return Entry{
		Type:        Text,
		DisplayName: "Text",
		Defaults: Props{
			"text":       "Texto",
			"fontFamily": "Inter",
			"fontSize":   float64(16),
			"fontWeight": "400",
			"textAlign":  "left",
			"color":      RGBA(66, 66, 66, 1).Prop(),
		},
		Rules:  Rules{Draggable: true, Deletable: true},
		Render: renderText,
		Settings: &Panel{Sections: []Section{
			{Title: "Content", Fields: []Field{
				{Prop: "text", Label: "Text", Kind: FieldTextArea, Debounced: true},
			}},
			typographySection(),
			colorSection(Field{Prop: "color", Label: "Text", Kind: FieldColor}),
		}},
		Upgrades: map[int]Upgrade{1: legacyColors},
	}
}
