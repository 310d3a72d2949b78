package mapspec

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var hexColorRE = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Sanitize is the trust boundary between external model output and the rest
// of the system. candidate may be malformed, partially present, or
// adversarial; the result is always a structurally valid Spec with exactly
// max(2, expectedNodeCount) nodes. Corrections are reported as warnings, not
// errors; sanitization never fails.
func Sanitize(candidate any, expectedNodeCount int, fallbackPath []Point) (Spec, Validation) {
	warnings := make([]string, 0)
	obj := asMap(candidate)

	themeID := ThemeWellnessGeneric
	if raw := stringFromAny(obj["themeId"]); ValidThemeID(raw) {
		themeID = ThemeID(raw)
	}
	if themeID == ThemeWellnessGeneric {
		warnings = append(warnings, "Invalid or missing themeId; fallback used.")
	}

	defaults := PaletteForTheme(themeID)
	paletteObj := asMap(obj["palette"])
	palette := Palette{
		Primary:   sanitizeColor(paletteObj["primary"], defaults.Primary, "palette.primary", &warnings),
		Secondary: sanitizeColor(paletteObj["secondary"], defaults.Secondary, "palette.secondary", &warnings),
		Accent:    sanitizeColor(paletteObj["accent"], defaults.Accent, "palette.accent", &warnings),
		Ground:    sanitizeColor(paletteObj["ground"], defaults.Ground, "palette.ground", &warnings),
		Sky:       sanitizeColor(paletteObj["sky"], defaults.Sky, "palette.sky", &warnings),
	}

	rawPath := asSlice(obj["path"])
	var path []Point
	if len(rawPath) >= 2 && len(fallbackPath) > 0 {
		path = make([]Point, 0, len(rawPath))
		for i, p := range rawPath {
			path = append(path, toPoint(p, fallbackPath[i%len(fallbackPath)]))
		}
	} else if len(rawPath) >= 2 {
		path = make([]Point, 0, len(rawPath))
		for _, p := range rawPath {
			path = append(path, toPoint(p, Point{X: 0.5, Y: 0.5}))
		}
	} else {
		path = make([]Point, len(fallbackPath))
		copy(path, fallbackPath)
		warnings = append(warnings, "Path had fewer than 2 points; fallback path used.")
	}
	if len(path) < 2 {
		// Even the fallback path was unusable; degrade to a straight segment.
		path = []Point{{X: 0.1, Y: 0.9}, {X: 0.9, Y: 0.1}}
	}

	rawNodes := asSlice(obj["nodes"])
	targetCount := expectedNodeCount
	if targetCount < 2 {
		targetCount = 2
	}
	nodes := make([]Node, 0, targetCount)
	for i := 0; i < targetCount; i++ {
		fallbackPoint := path[minInt(i, len(path)-1)]
		var rawNode any
		if i < len(rawNodes) {
			rawNode = rawNodes[i]
		}
		nodes = append(nodes, sanitizeNode(rawNode, i, fallbackPoint))
	}
	if len(rawNodes) != targetCount {
		warnings = append(warnings, fmt.Sprintf("Node count normalized to %d.", targetCount))
	}

	rawDecor := asSlice(obj["decor"])
	decor := make([]Decor, 0, len(rawDecor))
	for _, d := range rawDecor {
		if item, ok := sanitizeDecor(d); ok {
			decor = append(decor, item)
		}
		if len(decor) == 40 {
			break
		}
	}
	if len(rawDecor) > 40 {
		warnings = append(warnings, "Decor trimmed to 40 items.")
	}

	charObj := asMap(obj["character"])
	charPoint := toPoint(obj["character"], Point{X: nodes[0].X, Y: nodes[0].Y})
	skin := stringFromAny(charObj["skin"])
	if skin == "" {
		skin = "explorer_default"
	}
	character := CharacterSpawn{
		Skin: truncate(skin, 32),
		X:    charPoint.X,
		Y:    charPoint.Y,
	}

	styleTier := StyleTemplate
	switch stringFromAny(obj["styleTier"]) {
	case string(StyleEnhanced):
		styleTier = StyleEnhanced
	case string(StyleAIArt):
		styleTier = StyleAIArt
	}

	source := SourceFallback
	metaObj := asMap(obj["meta"])
	if stringFromAny(metaObj["source"]) == string(SourceAI) {
		source = SourceAI
	}
	seed := time.Now().UnixMilli() % 1000000
	if v, ok := floatFromAny(metaObj["seed"]); ok {
		seed = int64(v)
	}

	spec := Spec{
		Version:    1,
		ThemeID:    themeID,
		StyleTier:  styleTier,
		Palette:    palette,
		Background: sanitizeBackground(obj["background"]),
		Path:       path,
		Nodes:      nodes,
		Decor:      decor,
		Character:  character,
		Meta: Meta{
			Source:         source,
			Seed:           seed,
			ChecklistCount: targetCount,
		},
	}

	return spec, Validation{Ok: len(warnings) == 0, Warnings: warnings}
}

func sanitizeNode(input any, index int, fallbackPoint Point) Node {
	obj := asMap(input)
	point := toPoint(input, fallbackPoint)

	id := stringFromAny(obj["id"])
	if id == "" {
		id = fmt.Sprintf("n%d", index+1)
	}
	stageType := stringFromAny(obj["stageType"])
	if stageType == "" {
		stageType = "general"
	}
	label := stringFromAny(obj["label"])
	if label == "" {
		label = fmt.Sprintf("Stage %d", index+1)
	}

	return Node{
		ID:        id,
		Index:     index,
		StageType: stageType,
		Label:     truncate(label, 60),
		X:         point.X,
		Y:         point.Y,
	}
}

func sanitizeDecor(input any) (Decor, bool) {
	obj := asMap(input)
	assetID := stringFromAny(obj["assetId"])
	if assetID == "" {
		return Decor{}, false
	}

	point := toPoint(input, Point{X: 0.5, Y: 0.5})
	scale := 1.0
	if v, ok := floatFromAny(obj["scale"]); ok {
		scale = clampRange(v, 0.5, 2)
	}
	layer := stringFromAny(obj["layer"])
	switch layer {
	case LayerBack, LayerMid, LayerFront:
	default:
		layer = LayerMid
	}

	return Decor{
		AssetID: truncate(assetID, 48),
		X:       point.X,
		Y:       point.Y,
		Scale:   scale,
		Layer:   layer,
	}, true
}

func sanitizeBackground(input any) Background {
	obj := asMap(input)
	out := Background{}

	if u := stringFromAny(obj["imageUrl"]); strings.HasPrefix(u, "http") || strings.HasPrefix(u, "/maps/") {
		out.ImageURL = u
	}

	layers := asSlice(obj["parallaxLayers"])
	out.ParallaxLayers = make([]ParallaxLayer, 0, len(layers))
	for _, raw := range layers {
		layerObj := asMap(raw)
		assetID := truncate(stringFromAny(layerObj["assetId"]), 48)
		if assetID == "" {
			continue
		}
		speed := 0.2
		if v, ok := floatFromAny(layerObj["speed"]); ok {
			speed = clampRange(v, 0.05, 1.5)
		}
		opacity := 0.5
		if v, ok := floatFromAny(layerObj["opacity"]); ok {
			opacity = clampRange(v, 0.1, 1)
		}
		out.ParallaxLayers = append(out.ParallaxLayers, ParallaxLayer{
			AssetID: assetID,
			Speed:   speed,
			Opacity: opacity,
		})
		if len(out.ParallaxLayers) == 8 {
			break
		}
	}
	return out
}

func toPoint(input any, fallback Point) Point {
	obj := asMap(input)
	x := fallback.X
	if v, ok := floatFromAny(obj["x"]); ok {
		x = v
	}
	y := fallback.Y
	if v, ok := floatFromAny(obj["y"]); ok {
		y = v
	}
	return Point{X: Clamp01(x), Y: Clamp01(y)}
}

// Clamp01 clamps into [0,1]; NaN resolves to the midpoint.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}

func clampRange(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func sanitizeColor(input any, def, field string, warnings *[]string) string {
	s := stringFromAny(input)
	if hexColorRE.MatchString(s) {
		return s
	}
	if s != "" || input != nil {
		*warnings = append(*warnings, fmt.Sprintf("Invalid %s; theme default used.", field))
	}
	return def
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func stringFromAny(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func floatFromAny(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
