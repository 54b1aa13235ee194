package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	cases := []struct {
		name  string
		input any
		want  Color
		ok    bool
	}{
		{name: "short hex", input: "#fff", want: RGBA(255, 255, 255, 1), ok: true},
		{name: "hex", input: "#102030", want: RGBA(16, 32, 48, 1), ok: true},
		{name: "hex alpha", input: "#ff000080", want: RGBA(255, 0, 0, 0.5), ok: true},
		{name: "rgb", input: "rgb(1, 2, 3)", want: RGBA(1, 2, 3, 1), ok: true},
		{name: "rgba", input: "RGBA(10,20,30,0.25)", want: RGBA(10, 20, 30, 0.25), ok: true},
		{name: "map", input: map[string]any{"r": float64(9), "g": float64(8), "b": float64(7), "a": 0.1}, want: RGBA(9, 8, 7, 0.1), ok: true},
		{name: "map without alpha", input: map[string]any{"r": float64(9), "g": float64(8), "b": float64(7)}, want: RGBA(9, 8, 7, 1), ok: true},
		{name: "clamped", input: map[string]any{"r": float64(300), "g": float64(-1), "b": float64(7), "a": float64(4)}, want: RGBA(255, 0, 7, 1), ok: true},
		{name: "named color", input: "red", ok: false},
		{name: "bad hex", input: "#12", ok: false},
		{name: "partial map", input: map[string]any{"r": float64(1)}, ok: false},
		{name: "number", input: float64(3), ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseColor(tc.input)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestColorCSS(t *testing.T) {
	assert.Equal(t, "rgba(1, 2, 3, 0.5)", RGBA(1, 2, 3, 0.5).CSS())
	assert.Equal(t, "rgba(0, 0, 0, 1)", RGBA(0, 0, 0, 1).CSS())
}

func TestCanonicalize(t *testing.T) {
	type nested struct {
		Size int `json:"size"`
	}
	props, err := Canonicalize(Props{
		"n":      7,
		"list":   []string{"a", "b"},
		"nested": nested{Size: 3},
		"color":  RGBA(1, 2, 3, 1).Prop(),
	})
	require.NoError(t, err)
	assert.Equal(t, float64(7), props["n"])
	assert.Equal(t, []any{"a", "b"}, props["list"])
	assert.Equal(t, map[string]any{"size": float64(3)}, props["nested"])
	assert.Equal(t, RGBA(1, 2, 3, 1).Prop(), props["color"])

	_, err = Canonicalize(Props{"fn": func() {}})
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	original := Props{"color": RGBA(1, 2, 3, 1).Prop(), "tags": []any{"x"}}
	clone := original.Clone()
	clone["color"].(map[string]any)["r"] = float64(200)
	clone["tags"].([]any)[0] = "y"

	assert.Equal(t, float64(1), original["color"].(map[string]any)["r"])
	assert.Equal(t, "x", original["tags"].([]any)[0])
}

func TestPropGetters(t *testing.T) {
	p := Props{"s": "hi", "n": float64(2.5), "ns": "4", "b": true, "bs": "true"}
	assert.Equal(t, "hi", p.String("s"))
	assert.Equal(t, "2.5", p.String("n"))
	assert.Equal(t, 2.5, p.Number("n"))
	assert.Equal(t, float64(4), p.Number("ns"))
	assert.True(t, p.Bool("b"))
	assert.True(t, p.Bool("bs"))
	assert.False(t, p.Bool("missing"))
	assert.Equal(t, "", p.String("missing"))
}
