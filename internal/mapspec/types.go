package mapspec

// ThemeID is the closed set of renderable map themes.
type ThemeID string

const (
	ThemeDesertPyramids  ThemeID = "desert_pyramids"
	ThemeJungleGarden    ThemeID = "jungle_garden"
	ThemeCityVitamins    ThemeID = "city_vitamins"
	ThemeWellnessGeneric ThemeID = "wellness_generic"
)

func ValidThemeID(v string) bool {
	switch ThemeID(v) {
	case ThemeDesertPyramids, ThemeJungleGarden, ThemeCityVitamins, ThemeWellnessGeneric:
		return true
	}
	return false
}

// StyleTier describes how the map was produced, from cheapest to richest.
type StyleTier string

const (
	StyleTemplate StyleTier = "template"
	StyleEnhanced StyleTier = "enhanced"
	StyleAIArt    StyleTier = "ai_art"
)

// Source marks whether a spec came from the AI path or the procedural fallback.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Palette holds the five named colors a renderer needs. Every value is a
// "#RRGGBB" string.
type Palette struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Accent    string `json:"accent"`
	Ground    string `json:"ground"`
	Sky       string `json:"sky"`
}

// Point is a map coordinate normalized to [0,1] on both axes.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a checkpoint on the journey. Index is 0-based and contiguous.
type Node struct {
	ID        string  `json:"id"`
	Index     int     `json:"index"`
	StageType string  `json:"stageType"`
	Label     string  `json:"label"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// DecorLayer values a renderer understands.
const (
	LayerBack  = "back"
	LayerMid   = "mid"
	LayerFront = "front"
)

type Decor struct {
	AssetID string  `json:"assetId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Scale   float64 `json:"scale"`
	Layer   string  `json:"layer"`
}

type CharacterSpawn struct {
	Skin string  `json:"skin"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type ParallaxLayer struct {
	AssetID string  `json:"assetId"`
	Speed   float64 `json:"speed"`
	Opacity float64 `json:"opacity"`
}

// Background is either a reference to generated artwork or a stack of
// parallax layers, occasionally both.
type Background struct {
	ImageURL       string          `json:"imageUrl,omitempty"`
	ParallaxLayers []ParallaxLayer `json:"parallaxLayers,omitempty"`
}

type Meta struct {
	Source         Source `json:"source"`
	Seed           int64  `json:"seed"`
	ChecklistCount int    `json:"checklistCount"`
}

// Spec is the root aggregate: the validated, renderable unit a client turns
// into a journey map. Everything a renderer touches goes through Sanitize
// first, so a Spec in the wild is always structurally valid.
type Spec struct {
	Version    int            `json:"version"`
	ThemeID    ThemeID        `json:"themeId"`
	StyleTier  StyleTier      `json:"styleTier"`
	Palette    Palette        `json:"palette"`
	Background Background     `json:"background"`
	Path       []Point        `json:"path"`
	Nodes      []Node         `json:"nodes"`
	Decor      []Decor        `json:"decor"`
	Character  CharacterSpawn `json:"character"`
	Meta       Meta           `json:"meta"`
}

// ChecklistItem is the read-only input shape the pipeline consumes. Identity
// is positional; the pipeline never mutates items.
type ChecklistItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Signals summarizes what a chunk of checklist items is about. It drives
// procedural theme selection and is attached to prompts for observability.
type Signals struct {
	ChecklistCount int            `json:"checklistCount"`
	Categories     map[string]int `json:"categories"`
	Keywords       KeywordCounts  `json:"keywords"`
	DominantFocus  string         `json:"dominantFocus"`
}

type KeywordCounts struct {
	Vegetables int `json:"vegetables"`
	Vitamins   int `json:"vitamins"`
	Medication int `json:"medication"`
	Exercise   int `json:"exercise"`
	Tests      int `json:"tests"`
	Hydration  int `json:"hydration"`
}

// Validation reports non-fatal corrections made while sanitizing. Ok is true
// only when nothing had to be corrected.
type Validation struct {
	Ok       bool     `json:"ok"`
	Warnings []string `json:"warnings"`
}
