package mapspec

import (
	"encoding/json"
	"math"
	"testing"
)

func fallbackTestPath() []Point {
	return BasePathForTheme(ThemeWellnessGeneric)
}

func TestSanitizeNodeCountInvariant(t *testing.T) {
	candidates := map[string]any{
		"empty object":   map[string]any{},
		"nil":            nil,
		"wrong type":     "not a map",
		"zero nodes":     map[string]any{"nodes": []any{}},
		"too many nodes": map[string]any{"nodes": make([]any, 50)},
	}

	for name, candidate := range candidates {
		for expected := 2; expected <= 12; expected++ {
			spec, _ := Sanitize(candidate, expected, fallbackTestPath())
			if len(spec.Nodes) != expected {
				t.Fatalf("%s with expected=%d: got %d nodes", name, expected, len(spec.Nodes))
			}
			for i, n := range spec.Nodes {
				if n.Index != i {
					t.Fatalf("%s: node %d has index %d", name, i, n.Index)
				}
			}
		}
	}
}

func TestSanitizeClampsCoordinates(t *testing.T) {
	candidate := map[string]any{
		"path": []any{
			map[string]any{"x": -5.0, "y": 99.0},
			map[string]any{"x": 0.5, "y": math.NaN()},
			map[string]any{"x": 2.0, "y": -0.1},
		},
		"nodes": []any{
			map[string]any{"x": -1.0, "y": 1.7},
		},
		"character": map[string]any{"x": 40.0, "y": -40.0},
	}

	spec, _ := Sanitize(candidate, 3, fallbackTestPath())
	for i, p := range spec.Path {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Fatalf("path point %d out of range: %+v", i, p)
		}
	}
	for i, n := range spec.Nodes {
		if n.X < 0 || n.X > 1 || n.Y < 0 || n.Y > 1 {
			t.Fatalf("node %d out of range: %+v", i, n)
		}
	}
	if spec.Character.X < 0 || spec.Character.X > 1 || spec.Character.Y < 0 || spec.Character.Y > 1 {
		t.Fatalf("character out of range: %+v", spec.Character)
	}
	// NaN resolves to the midpoint rather than an edge.
	if spec.Path[1].Y != 0.5 {
		t.Fatalf("NaN y = %v, want 0.5", spec.Path[1].Y)
	}
}

func TestSanitizeThemeAndPaletteFallbacks(t *testing.T) {
	candidate := map[string]any{
		"themeId": "lava_world",
		"palette": map[string]any{
			"primary":   "#ZZZZZZ",
			"secondary": "#15803D",
			"accent":    "red",
			"ground":    "#2D6A4F",
			"sky":       12345,
		},
	}

	spec, validation := Sanitize(candidate, 3, fallbackTestPath())
	if spec.ThemeID != ThemeWellnessGeneric {
		t.Fatalf("themeId = %q", spec.ThemeID)
	}
	defaults := PaletteForTheme(ThemeWellnessGeneric)
	if spec.Palette.Primary != defaults.Primary {
		t.Fatalf("bad primary not defaulted: %q", spec.Palette.Primary)
	}
	if spec.Palette.Secondary != "#15803D" {
		t.Fatalf("valid secondary rejected: %q", spec.Palette.Secondary)
	}
	if spec.Palette.Ground != "#2D6A4F" {
		t.Fatalf("valid ground rejected: %q", spec.Palette.Ground)
	}
	if validation.Ok {
		t.Fatal("expected warnings")
	}
}

func TestSanitizeShortPathReplacedWholesale(t *testing.T) {
	fallback := fallbackTestPath()
	candidate := map[string]any{
		"path": []any{map[string]any{"x": 0.2, "y": 0.2}},
	}

	spec, validation := Sanitize(candidate, 3, fallback)
	if len(spec.Path) != len(fallback) {
		t.Fatalf("path length = %d, want %d", len(spec.Path), len(fallback))
	}
	if spec.Path[0] != fallback[0] {
		t.Fatalf("path not replaced: %+v", spec.Path[0])
	}
	if validation.Ok {
		t.Fatal("expected path warning")
	}
}

func TestSanitizeDecorFilteredAndCapped(t *testing.T) {
	raw := make([]any, 0, 60)
	for i := 0; i < 50; i++ {
		raw = append(raw, map[string]any{"assetId": "tree", "x": 0.5, "y": 0.5, "scale": 9.0, "layer": "sideways"})
	}
	raw = append(raw, map[string]any{"x": 0.5, "y": 0.5}) // no assetId, dropped
	candidate := map[string]any{"decor": raw}

	spec, _ := Sanitize(candidate, 3, fallbackTestPath())
	if len(spec.Decor) != 40 {
		t.Fatalf("decor length = %d, want 40", len(spec.Decor))
	}
	for _, d := range spec.Decor {
		if d.Scale < 0.5 || d.Scale > 2 {
			t.Fatalf("scale out of range: %v", d.Scale)
		}
		if d.Layer != LayerBack && d.Layer != LayerMid && d.Layer != LayerFront {
			t.Fatalf("bad layer: %q", d.Layer)
		}
	}
}

func TestSanitizeNodeSynthesisFromPath(t *testing.T) {
	candidate := map[string]any{
		"nodes": []any{
			map[string]any{"id": "start", "label": "Brush teeth", "x": 0.1, "y": 0.9},
		},
	}

	spec, _ := Sanitize(candidate, 4, fallbackTestPath())
	if len(spec.Nodes) != 4 {
		t.Fatalf("nodes = %d", len(spec.Nodes))
	}
	if spec.Nodes[0].ID != "start" || spec.Nodes[0].Label != "Brush teeth" {
		t.Fatalf("candidate node not kept: %+v", spec.Nodes[0])
	}
	// Synthesized nodes land on the path and get default identity.
	if spec.Nodes[2].ID != "n3" || spec.Nodes[2].StageType != "general" {
		t.Fatalf("synthesized node wrong: %+v", spec.Nodes[2])
	}
}

func TestSanitizeCharacterDefaultsToFirstNode(t *testing.T) {
	spec, _ := Sanitize(map[string]any{}, 3, fallbackTestPath())
	if spec.Character.X != spec.Nodes[0].X || spec.Character.Y != spec.Nodes[0].Y {
		t.Fatalf("character %+v, node0 %+v", spec.Character, spec.Nodes[0])
	}
	if spec.Character.Skin != "explorer_default" {
		t.Fatalf("skin = %q", spec.Character.Skin)
	}
}

func TestSanitizeParallaxLayerBounds(t *testing.T) {
	candidate := map[string]any{
		"background": map[string]any{
			"parallaxLayers": []any{
				map[string]any{"assetId": "far_hills", "speed": 9.0, "opacity": 0.0},
				map[string]any{"assetId": "", "speed": 0.1, "opacity": 0.5},
				map[string]any{"assetId": "near_hills"},
			},
		},
	}

	spec, _ := Sanitize(candidate, 2, fallbackTestPath())
	layers := spec.Background.ParallaxLayers
	if len(layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(layers))
	}
	if layers[0].Speed != 1.5 || layers[0].Opacity != 0.1 {
		t.Fatalf("bounds not applied: %+v", layers[0])
	}
	if layers[1].Speed != 0.2 || layers[1].Opacity != 0.5 {
		t.Fatalf("defaults not applied: %+v", layers[1])
	}
}

func TestSanitizeAcceptsDecodedJSON(t *testing.T) {
	raw := `{"themeId":"jungle_garden","nodes":[{"x":0.2,"y":0.8,"label":"Walk"}],"path":[{"x":0.1,"y":0.9},{"x":0.9,"y":0.1}]}`
	var candidate any
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	spec, _ := Sanitize(candidate, 3, fallbackTestPath())
	if spec.ThemeID != ThemeJungleGarden {
		t.Fatalf("themeId = %q", spec.ThemeID)
	}
	if len(spec.Nodes) != 3 {
		t.Fatalf("nodes = %d", len(spec.Nodes))
	}
}

func TestSanitizeSpecRoundTripsThroughJSON(t *testing.T) {
	spec, _ := Sanitize(map[string]any{"themeId": string(ThemeCityVitamins)}, 4, fallbackTestPath())
	raw, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Spec
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ThemeID != spec.ThemeID || len(back.Nodes) != len(spec.Nodes) {
		t.Fatalf("round trip changed spec: %+v", back)
	}
}
