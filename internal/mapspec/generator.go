package mapspec

import (
	"fmt"
	"sort"
	"time"
)

var themeBasePaths = map[ThemeID][]Point{
	ThemeDesertPyramids: {
		{X: 0.08, Y: 0.92},
		{X: 0.2, Y: 0.78},
		{X: 0.36, Y: 0.7},
		{X: 0.24, Y: 0.56},
		{X: 0.45, Y: 0.48},
		{X: 0.7, Y: 0.53},
		{X: 0.85, Y: 0.38},
		{X: 0.65, Y: 0.28},
		{X: 0.5, Y: 0.14},
	},
	ThemeJungleGarden: {
		{X: 0.1, Y: 0.92},
		{X: 0.28, Y: 0.82},
		{X: 0.17, Y: 0.68},
		{X: 0.4, Y: 0.62},
		{X: 0.58, Y: 0.68},
		{X: 0.78, Y: 0.52},
		{X: 0.6, Y: 0.37},
		{X: 0.38, Y: 0.3},
		{X: 0.55, Y: 0.14},
	},
	ThemeCityVitamins: {
		{X: 0.12, Y: 0.9},
		{X: 0.22, Y: 0.76},
		{X: 0.37, Y: 0.8},
		{X: 0.48, Y: 0.65},
		{X: 0.34, Y: 0.53},
		{X: 0.55, Y: 0.44},
		{X: 0.75, Y: 0.56},
		{X: 0.82, Y: 0.36},
		{X: 0.62, Y: 0.18},
	},
	ThemeWellnessGeneric: {
		{X: 0.1, Y: 0.9},
		{X: 0.25, Y: 0.78},
		{X: 0.18, Y: 0.62},
		{X: 0.42, Y: 0.56},
		{X: 0.62, Y: 0.6},
		{X: 0.78, Y: 0.42},
		{X: 0.58, Y: 0.28},
		{X: 0.35, Y: 0.2},
		{X: 0.55, Y: 0.1},
	},
}

var themePalettes = map[ThemeID]Palette{
	ThemeDesertPyramids: {
		Primary:   "#F59E0B",
		Secondary: "#D97706",
		Accent:    "#FCD34D",
		Ground:    "#B0893A",
		Sky:       "#7C2D12",
	},
	ThemeJungleGarden: {
		Primary:   "#22C55E",
		Secondary: "#15803D",
		Accent:    "#86EFAC",
		Ground:    "#2D6A4F",
		Sky:       "#14532D",
	},
	ThemeCityVitamins: {
		Primary:   "#3B82F6",
		Secondary: "#1D4ED8",
		Accent:    "#93C5FD",
		Ground:    "#4B5563",
		Sky:       "#172554",
	},
	ThemeWellnessGeneric: {
		Primary:   "#8B5CF6",
		Secondary: "#7C3AED",
		Accent:    "#C4B5FD",
		Ground:    "#475569",
		Sky:       "#1E293B",
	},
}

// PaletteForTheme returns the hand-authored palette for a theme; callers get
// the wellness palette for anything outside the closed set.
func PaletteForTheme(theme ThemeID) Palette {
	if p, ok := themePalettes[theme]; ok {
		return p
	}
	return themePalettes[ThemeWellnessGeneric]
}

// BasePathForTheme exposes the hand-authored curve so callers (the sanitizer's
// fallback path, the preview renderer) can reuse it.
func BasePathForTheme(theme ThemeID) []Point {
	if p, ok := themeBasePaths[theme]; ok {
		out := make([]Point, len(p))
		copy(out, p)
		return out
	}
	return BasePathForTheme(ThemeWellnessGeneric)
}

func fallbackDecor(theme ThemeID, signals Signals) []Decor {
	switch theme {
	case ThemeJungleGarden:
		return []Decor{
			{AssetID: "tree_big", X: 0.18, Y: 0.28, Scale: 1.2, Layer: LayerBack},
			{AssetID: "veggie_patch", X: 0.58, Y: 0.72, Scale: 1.1, Layer: LayerMid},
			{AssetID: "waterfall", X: 0.78, Y: 0.34, Scale: 1.0, Layer: LayerBack},
		}
	case ThemeCityVitamins:
		return []Decor{
			{AssetID: "tower_block", X: 0.16, Y: 0.22, Scale: 1.3, Layer: LayerBack},
			{AssetID: "lab_sign", X: 0.72, Y: 0.2, Scale: 1.0, Layer: LayerMid},
			{AssetID: "pill_statue", X: 0.62, Y: 0.78, Scale: 0.9, Layer: LayerFront},
		}
	}
	if signals.Keywords.Vegetables > 0 {
		return []Decor{
			{AssetID: "palm", X: 0.6, Y: 0.44, Scale: 1.0, Layer: LayerMid},
			{AssetID: "cactus", X: 0.12, Y: 0.62, Scale: 1.1, Layer: LayerFront},
		}
	}
	return []Decor{
		{AssetID: "pyramid_large", X: 0.24, Y: 0.36, Scale: 1.3, Layer: LayerBack},
		{AssetID: "pyramid_small", X: 0.78, Y: 0.3, Scale: 1.1, Layer: LayerBack},
		{AssetID: "oasis_tree", X: 0.62, Y: 0.52, Scale: 1.0, Layer: LayerMid},
	}
}

func fallbackParallax(theme ThemeID) []ParallaxLayer {
	switch theme {
	case ThemeDesertPyramids:
		return []ParallaxLayer{
			{AssetID: "far_dunes", Speed: 0.08, Opacity: 0.35},
			{AssetID: "near_dunes", Speed: 0.18, Opacity: 0.5},
		}
	case ThemeJungleGarden:
		return []ParallaxLayer{
			{AssetID: "far_trees", Speed: 0.08, Opacity: 0.4},
			{AssetID: "near_vines", Speed: 0.2, Opacity: 0.55},
		}
	}
	return []ParallaxLayer{
		{AssetID: "far_skyline", Speed: 0.08, Opacity: 0.35},
		{AssetID: "near_skyline", Speed: 0.16, Opacity: 0.55},
	}
}

// BuildFallbackSpec synthesizes a complete, valid Spec from checklist signals
// alone. It is the zero-risk safety net behind every other generation path:
// no I/O, no failure modes, deterministic apart from the seed.
func BuildFallbackSpec(signals Signals, nodeCount int) Spec {
	theme := PickTheme(signals)
	count := nodeCount
	if count < 2 {
		count = 2
	}
	path := Resample(themeBasePaths[theme], count)

	categoryKeys := make([]string, 0, len(signals.Categories))
	for k := range signals.Categories {
		categoryKeys = append(categoryKeys, k)
	}
	sort.Strings(categoryKeys)

	nodes := make([]Node, 0, count)
	for i, point := range path {
		stageType := "general"
		if i < nodeCount && len(categoryKeys) > 0 {
			stageType = categoryKeys[i%len(categoryKeys)]
		}
		nodes = append(nodes, Node{
			ID:        fmt.Sprintf("n%d", i+1),
			Index:     i,
			StageType: stageType,
			Label:     fmt.Sprintf("Stage %d", i+1),
			X:         point.X,
			Y:         point.Y,
		})
	}

	skin := "explorer_default"
	if theme == ThemeCityVitamins {
		skin = "medic_neo"
	}

	return Spec{
		Version:   1,
		ThemeID:   theme,
		StyleTier: StyleEnhanced,
		Palette:   themePalettes[theme],
		Background: Background{
			ParallaxLayers: fallbackParallax(theme),
		},
		Path:  path,
		Nodes: nodes,
		Decor: fallbackDecor(theme, signals),
		Character: CharacterSpawn{
			Skin: skin,
			X:    path[0].X,
			Y:    path[0].Y,
		},
		Meta: Meta{
			Source:         SourceFallback,
			Seed:           time.Now().UnixMilli() % 1000000,
			ChecklistCount: nodeCount,
		},
	}
}
