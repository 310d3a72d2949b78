package theme

import (
	"context"
	"fmt"
	"strings"

	"github.com/carequest/questmap-backend/internal/mapspec"
	"github.com/carequest/questmap-backend/internal/platform/logger"
	"github.com/carequest/questmap-backend/internal/platform/openai"
)

// Detector resolves a consultation's theme profile, preferring a model
// classification and falling back to keyword analysis on any failure.
type Detector struct {
	log *logger.Logger
	ai  openai.Client
}

func NewDetector(log *logger.Logger, ai openai.Client) *Detector {
	return &Detector{log: log.With("service", "ThemeDetector"), ai: ai}
}

var themeSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"theme_key", "specialty", "theme_keywords", "specific_elements"},
	"properties": map[string]any{
		"theme_key": map[string]any{
			"type": "string",
			"enum": []string{
				"dentistry", "chiropractic", "chest_radiology", "radiology",
				"cardiology", "orthopedics", "medication", "fitness",
				"nutrition", "general_wellness",
			},
		},
		"specialty": map[string]any{"type": "string"},
		"theme_keywords": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"specific_elements": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

const themeSystemPrompt = "You classify medical checklist themes. Return strict JSON only with stable specialty decisions."

func themeUserPrompt(items []mapspec.ChecklistItem, rawContext string) string {
	var checklist strings.Builder
	for i, item := range items {
		fmt.Fprintf(&checklist, "%d. %s", i+1, item.Title)
		if strings.TrimSpace(item.Description) != "" {
			checklist.WriteString(" - " + item.Description)
		}
		checklist.WriteString("\n")
	}
	if rawContext == "" {
		rawContext = "(none)"
	}

	return fmt.Sprintf(`Determine ONE primary medical specialty theme from the consultation/checklist content.

CRITICAL RULES:
- PRIORITIZE the "Raw consultation context" section - it contains the user's direct input.
- Pick exactly one specialty based on SPECIFIC keywords in the RAW CONTEXT first, then checklist items.
- Theme must reflect user input directly, not generic wellness assumptions.
- Be VERY SPECIFIC: look for exact medical terms and procedures mentioned in the raw context.

THEME DETECTION ORDER (first match wins):
1. dentistry: any of "tooth", "teeth", "dental", "dentist", "wisdom tooth", "tooth removal", "extraction", "oral", "gum", "molar", "root canal", "cavity", "filling", "braces", "oral surgery", "toothache", "flossing", "brushing teeth"
2. chiropractic: any of "chiropractor", "spine", "back pain", "vertebra", "alignment", "posture", "spinal", "adjustment", "neck pain", "lower back"
3. chest_radiology: any of "chest xray", "chest x-ray", "lung imaging", "pulmonary", "CT scan chest", "chest imaging"
4. medication: any of "medication", "prescription", "antibiotic", "dosage", "pharmacy", "pill", "tablet", "medicine", "drug"
5. nutrition: any of "diet", "nutrition", "vegetable", "fruit", "calorie", "meal plan", "eating", "food"
6. fitness: any of "exercise", "workout", "fitness", "gym", "running", "walking", "cardio"
7. general_wellness: only if none of the above match

IMPORTANT: if the raw context mentions "wisdom tooth", "wisdom teeth", "tooth removal", or any dental procedure, you MUST choose the dentistry theme, not general wellness or medication.

Include 5-10 specific_elements that fit the specialty. For dentistry include teeth, tooth structures, dental tools, oral care elements.

Raw consultation context (PRIORITIZE THIS):
%s

Checklist items (use as secondary reference):
%s`, rawContext, checklist.String())
}

// Detect classifies the consultation with the model. Any error, refusal, or
// unusable payload degrades to Analyze so theme detection never fails.
func (d *Detector) Detect(ctx context.Context, items []mapspec.ChecklistItem, rawContext string) Profile {
	if d.ai == nil {
		return Analyze(items)
	}

	obj, err := d.ai.GenerateJSON(ctx, themeSystemPrompt, themeUserPrompt(items, rawContext), "theme_profile", themeSchema)
	if err != nil {
		d.log.Warn("Theme detection fallback used", "error", err.Error())
		return Analyze(items)
	}

	specialty := strings.TrimSpace(stringField(obj, "specialty"))
	if specialty == "" {
		specialty = "general wellness"
	}
	themeKey := Slugify(stringField(obj, "theme_key"))
	if themeKey == "general_wellness" && stringField(obj, "theme_key") == "" {
		themeKey = Slugify(specialty)
	}

	return Profile{
		ThemeKey:         themeKey,
		Specialty:        specialty,
		ThemeKeywords:    stringSliceField(obj, "theme_keywords", 10),
		SpecificElements: stringSliceField(obj, "specific_elements", 12),
	}
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func stringSliceField(obj map[string]any, key string, max int) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(s))
		if len(out) == max {
			break
		}
	}
	return out
}
