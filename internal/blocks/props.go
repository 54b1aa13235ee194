package blocks

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Props is the per-node configuration of a block. Values are always JSON
// value types (string, float64, bool, nil, []any, map[string]any) so that a
// props map compares equal before and after a trip through the codec.
type Props map[string]any

// Clone returns a deep copy of p.
func (p Props) Clone() Props {
	if p == nil {
		return Props{}
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, inner := range typed {
			out[k] = cloneValue(inner)
		}
		return out
	case Props:
		return map[string]any(typed.Clone())
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Canonicalize converts arbitrary Go values into their JSON value form.
func Canonicalize(p Props) (Props, error) {
	if len(p) == 0 {
		return Props{}, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal props: %w", err)
	}
	var out Props
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal props: %w", err)
	}
	return out, nil
}

// CanonicalValue is Canonicalize for a single value.
func CanonicalValue(v any) (any, error) {
	out, err := Canonicalize(Props{"v": v})
	if err != nil {
		return nil, err
	}
	return out["v"], nil
}

func (p Props) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func (p Props) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		parsed, _ := strconv.ParseBool(v)
		return parsed
	default:
		return false
	}
}

func (p Props) Number(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// Color reads an RGBA prop. Hex and rgba() strings are accepted so that
// values written by old clients still render.
func (p Props) Color(key string) (Color, bool) {
	return ParseColor(p[key])
}

// Color is an RGBA quadruple. A is the alpha channel in [0, 1].
type Color struct {
	R uint8
	G uint8
	B uint8
	A float64
}

func RGBA(r, g, b uint8, a float64) Color {
	return Color{R: r, G: g, B: b, A: a}
}

// Prop returns the stored form of c.
func (c Color) Prop() map[string]any {
	return map[string]any{
		"r": float64(c.R),
		"g": float64(c.G),
		"b": float64(c.B),
		"a": c.A,
	}
}

// CSS returns c as an rgba() expression.
func (c Color) CSS() string {
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, strconv.FormatFloat(clampAlpha(c.A), 'f', -1, 64))
}

// ParseColor accepts the stored RGBA map, "#rgb", "#rrggbb", "#rrggbbaa" and
// "rgb()/rgba()" strings.
func ParseColor(v any) (Color, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return colorFromMap(typed)
	case Props:
		return colorFromMap(typed)
	case string:
		return colorFromString(typed)
	default:
		return Color{}, false
	}
}

func colorFromMap(m map[string]any) (Color, bool) {
	channel := func(key string) (uint8, bool) {
		n, ok := m[key].(float64)
		if !ok {
			return 0, false
		}
		return uint8(math.Max(0, math.Min(255, math.Round(n)))), true
	}
	r, okR := channel("r")
	g, okG := channel("g")
	b, okB := channel("b")
	if !okR || !okG || !okB {
		return Color{}, false
	}
	a := 1.0
	if raw, ok := m["a"].(float64); ok {
		a = clampAlpha(raw)
	}
	return Color{R: r, G: g, B: b, A: a}, true
}

func colorFromString(value string) (Color, bool) {
	value = strings.TrimSpace(strings.ToLower(value))
	if strings.HasPrefix(value, "#") {
		hex := value[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) != 6 && len(hex) != 8 {
			return Color{}, false
		}
		parsed, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return Color{}, false
		}
		if len(hex) == 6 {
			return Color{R: uint8(parsed >> 16), G: uint8(parsed >> 8), B: uint8(parsed), A: 1}, true
		}
		return Color{
			R: uint8(parsed >> 24),
			G: uint8(parsed >> 16),
			B: uint8(parsed >> 8),
			A: math.Round(float64(uint8(parsed))/255*100) / 100,
		}, true
	}

	open := strings.Index(value, "(")
	if open < 0 || !strings.HasSuffix(value, ")") {
		return Color{}, false
	}
	fn := value[:open]
	if fn != "rgb" && fn != "rgba" {
		return Color{}, false
	}
	parts := strings.Split(value[open+1:len(value)-1], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return Color{}, false
	}
	nums := make([]float64, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Color{}, false
		}
		nums[i] = n
	}
	c := Color{
		R: uint8(math.Max(0, math.Min(255, nums[0]))),
		G: uint8(math.Max(0, math.Min(255, nums[1]))),
		B: uint8(math.Max(0, math.Min(255, nums[2]))),
		A: 1,
	}
	if len(nums) == 4 {
		c.A = clampAlpha(nums[3])
	}
	return c, true
}

func clampAlpha(a float64) float64 {
	if math.IsNaN(a) {
		return 1
	}
	return math.Max(0, math.Min(1, a))
}
