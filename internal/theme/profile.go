// Package theme derives a consultation-wide visual identity from checklist
// content. The profile is computed once per consultation so every map in the
// journey shares the same specialty look.
package theme

import (
	"regexp"
	"strings"

	"github.com/carequest/questmap-backend/internal/mapspec"
)

// Profile is the visual identity attached to a consultation. ThemeKey is a
// stable slug used for template cache lookups; the rest feeds prompts.
type Profile struct {
	ThemeKey         string   `json:"themeKey"`
	Specialty        string   `json:"specialty"`
	SpecificElements []string `json:"specificElements"`
	ThemeKeywords    []string `json:"themeKeywords"`
}

var slugStripRE = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify folds a specialty name into a cache-safe key. Empty input slugs to
// general_wellness.
func Slugify(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	s = slugStripRE.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		return "general_wellness"
	}
	return s
}

// Specialty detection patterns, checked in order. The first match wins, so
// the most specific specialties come first.
var (
	dentistryRE      = regexp.MustCompile(`\b(wisdom tooth|tooth removal|tooth extraction|extraction|dentist|dental|teeth|tooth|oral|gum|toothpaste|floss|molar|canine|incisor|root canal|cavity|filling|braces|orthodontist|oral surgery|toothache|dental hygiene|brushing teeth|tooth pain|dental care|tooth cleaning)\b`)
	chiropracticRE   = regexp.MustCompile(`\b(chiropractor|chiropractic|spine|vertebra|posture|back pain|back)\b`)
	chestRadiologyRE = regexp.MustCompile(`\b(chest x.?ray|x.?ray chest|pulmonary x.?ray|lung x.?ray)\b`)
	radiologyRE      = regexp.MustCompile(`\b(radiology|x.?ray|ct|mri|ultrasound|imaging)\b`)
	cardiologyRE     = regexp.MustCompile(`\b(cardiology|heart|bp|blood pressure|pulse)\b`)
	orthopedicsRE    = regexp.MustCompile(`\b(orthopedic|orthopaedic|bone|joint|knee|hip|fracture)\b`)
	medicationRE     = regexp.MustCompile(`\b(medication|pill|tablet|capsule|antibiotic|prescription|medicine|pharmacy)\b`)
	fitnessRE        = regexp.MustCompile(`\b(exercise|workout|run|walk|cardio|fitness|gym)\b`)
	nutritionRE      = regexp.MustCompile(`\b(nutrition|diet|vegetable|fruit|healthy food|salad)\b`)
	hydrationRE      = regexp.MustCompile(`\b(hydration|water|drink)\b`)
	supplementsRE    = regexp.MustCompile(`\b(vitamin|supplement|mineral)\b`)
)

type specialtyRule struct {
	re        *regexp.Regexp
	specialty string
	keywords  []string
	elements  []string
}

var specialtyRules = []specialtyRule{
	{
		re:        dentistryRE,
		specialty: "dentistry",
		keywords:  []string{"dental", "oral care", "teeth", "tooth"},
		elements: []string{
			"giant tooth statues",
			"toothbrush towers",
			"toothpaste streams",
			"floss bridges",
			"smiling molar landmarks",
			"dental tools",
			"pearly white teeth structures",
		},
	},
	{
		re:        chiropracticRE,
		specialty: "chiropractic",
		keywords:  []string{"spine", "bones", "posture"},
		elements: []string{
			"vertebra-shaped arches",
			"spine totems",
			"bone pillars",
			"posture clinic huts",
			"rib-cage rock formations",
		},
	},
	{
		re:        chestRadiologyRE,
		specialty: "chest radiology",
		keywords:  []string{"chest xray", "lungs", "radiology"},
		elements: []string{
			"lung-shaped cliffs",
			"x-ray panel signposts",
			"radiology scanner stations",
			"thorax icon carvings",
			"transparent rib-cage monuments",
		},
	},
	{
		re:        radiologyRE,
		specialty: "radiology",
		keywords:  []string{"medical imaging", "radiology"},
		elements: []string{
			"imaging crystal towers",
			"scan chamber ruins",
			"x-ray murals",
			"medical lens beacons",
		},
	},
	{
		re:        cardiologyRE,
		specialty: "cardiology",
		keywords:  []string{"heart health", "circulation"},
		elements: []string{
			"heart-shaped groves",
			"artery river channels",
			"pulse beacon towers",
			"stethoscope stone arches",
		},
	},
	{
		re:        orthopedicsRE,
		specialty: "orthopedics",
		keywords:  []string{"bones", "joints"},
		elements: []string{
			"bone ridge formations",
			"joint-ring arches",
			"cast workshop huts",
			"skeletal guardian statues",
		},
	},
	{
		re:        medicationRE,
		specialty: "medication",
		keywords:  []string{"pharmacy", "medicine"},
		elements: []string{
			"pill-shaped trees",
			"capsule stones",
			"pharmacy stalls",
			"bottle shrines",
		},
	},
	{
		re:        fitnessRE,
		specialty: "fitness",
		keywords:  []string{"exercise", "movement"},
		elements: []string{
			"running lane markings",
			"fitness camp outposts",
			"training totems",
			"agility arches",
		},
	},
	{
		re:        nutritionRE,
		specialty: "nutrition",
		keywords:  []string{"healthy food", "nutrition"},
		elements: []string{
			"fruit orchards",
			"vegetable terraces",
			"nutrition stands",
			"farmstone windmills",
		},
	},
}

// Analyze classifies checklist items into a specialty profile with plain
// keyword matching. It is the no-I/O fallback behind model-based detection
// and deliberately checks the most specific specialties first.
func Analyze(items []mapspec.ChecklistItem) Profile {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(item.Title)
		sb.WriteString(" ")
		sb.WriteString(item.Description)
		sb.WriteString(" ")
	}
	allText := strings.ToLower(sb.String())

	profile := Profile{
		Specialty:        "general wellness",
		SpecificElements: []string{},
		ThemeKeywords:    []string{},
	}
	for _, rule := range specialtyRules {
		if rule.re.MatchString(allText) {
			profile.Specialty = rule.specialty
			profile.ThemeKeywords = append(profile.ThemeKeywords, rule.keywords...)
			profile.SpecificElements = append(profile.SpecificElements, rule.elements...)
			break
		}
	}

	if hydrationRE.MatchString(allText) {
		profile.ThemeKeywords = append(profile.ThemeKeywords, "hydration")
		profile.SpecificElements = append(profile.SpecificElements, "hydration springs", "water refill shrines")
	}
	if supplementsRE.MatchString(allText) {
		profile.ThemeKeywords = append(profile.ThemeKeywords, "supplements")
		profile.SpecificElements = append(profile.SpecificElements, "vitamin crystal gardens", "supplement kiosks")
	}

	profile.ThemeKey = Slugify(profile.Specialty)
	return profile
}
