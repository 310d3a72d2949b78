package mapspec

import (
	"sort"
	"strings"
)

var keywordTerms = map[string][]string{
	"vegetables": {"vegetable", "greens", "salad", "nutrition"},
	"vitamins":   {"vitamin", "supplement", "capsule"},
	"medication": {"medication", "pill", "tablet", "dose", "medicine"},
	"exercise":   {"exercise", "walk", "run", "cardio", "workout"},
	"tests":      {"test", "lab", "blood", "scan", "appointment"},
	"hydration":  {"water", "hydration", "drink"},
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// DeriveSignals counts category usage and health-keyword hits across a chunk
// of checklist items. The result feeds procedural theme selection and is
// attached to generation prompts.
func DeriveSignals(items []ChecklistItem) Signals {
	categories := map[string]int{}
	var kw KeywordCounts

	for _, item := range items {
		category := strings.ToLower(strings.TrimSpace(item.Category))
		if category == "" {
			category = "general"
		}
		categories[category]++

		text := strings.ToLower(item.Title + " " + item.Description)
		if containsAny(text, keywordTerms["vegetables"]) {
			kw.Vegetables++
		}
		if containsAny(text, keywordTerms["vitamins"]) {
			kw.Vitamins++
		}
		if containsAny(text, keywordTerms["medication"]) {
			kw.Medication++
		}
		if containsAny(text, keywordTerms["exercise"]) {
			kw.Exercise++
		}
		if containsAny(text, keywordTerms["tests"]) {
			kw.Tests++
		}
		if containsAny(text, keywordTerms["hydration"]) {
			kw.Hydration++
		}
	}

	return Signals{
		ChecklistCount: len(items),
		Categories:     categories,
		Keywords:       kw,
		DominantFocus:  dominantCategory(categories),
	}
}

func dominantCategory(categories map[string]int) string {
	if len(categories) == 0 {
		return "general"
	}
	keys := make([]string, 0, len(categories))
	for k := range categories {
		keys = append(keys, k)
	}
	// Stable order so ties resolve the same way every run.
	sort.Strings(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if categories[k] > categories[best] {
			best = k
		}
	}
	return best
}

// PickTheme maps checklist signals onto one of the closed themes using
// weighted keyword counts. Desert is the default when no signal dominates.
func PickTheme(signals Signals) ThemeID {
	if signals.Keywords.Vegetables+signals.Keywords.Exercise >= 3 {
		return ThemeJungleGarden
	}
	if signals.Keywords.Vitamins+signals.Keywords.Tests >= 3 {
		return ThemeCityVitamins
	}
	if signals.Keywords.Medication >= 3 {
		return ThemeCityVitamins
	}
	switch signals.DominantFocus {
	case "nutrition", "exercise":
		return ThemeJungleGarden
	case "medication", "test":
		return ThemeCityVitamins
	}
	return ThemeDesertPyramids
}
