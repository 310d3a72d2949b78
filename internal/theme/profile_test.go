package theme

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carequest/questmap-backend/internal/mapspec"
	"github.com/carequest/questmap-backend/internal/platform/logger"
	"github.com/carequest/questmap-backend/internal/platform/openai"
)

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Dentistry", "dentistry"},
		{"chest radiology", "chest_radiology"},
		{"  General Wellness!  ", "general_wellness"},
		{"", "general_wellness"},
		{"!!!", "general_wellness"},
		{strings.Repeat("a", 60), strings.Repeat("a", 50)},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAnalyzeSpecialtyPriority(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"dentistry beats medication", "Take antibiotics after wisdom tooth extraction", "dentistry"},
		{"chiropractic", "Stretches for lower back pain and posture", "chiropractic"},
		{"chest radiology beats radiology", "Schedule a chest x-ray follow up", "chest radiology"},
		{"radiology", "Book an mri for the shoulder", "radiology"},
		{"cardiology", "Track blood pressure every morning", "cardiology"},
		{"orthopedics", "Ice the knee joint twice daily", "orthopedics"},
		{"medication", "Refill the prescription at the pharmacy", "medication"},
		{"fitness", "A 30 minute cardio workout", "fitness"},
		{"nutrition", "Add a vegetable to every meal", "nutrition"},
		{"default", "Keep a gratitude journal", "general wellness"},
	}

	for _, tc := range cases {
		profile := Analyze([]mapspec.ChecklistItem{{Title: tc.text}})
		if profile.Specialty != tc.want {
			t.Fatalf("%s: specialty = %q, want %q", tc.name, profile.Specialty, tc.want)
		}
		if profile.ThemeKey != Slugify(tc.want) {
			t.Fatalf("%s: themeKey = %q", tc.name, profile.ThemeKey)
		}
	}
}

func TestAnalyzeEnrichersStack(t *testing.T) {
	profile := Analyze([]mapspec.ChecklistItem{
		{Title: "Floss daily"},
		{Title: "Drink more water"},
		{Title: "Morning vitamin D supplement"},
	})
	if profile.Specialty != "dentistry" {
		t.Fatalf("specialty = %q", profile.Specialty)
	}
	if !containsString(profile.ThemeKeywords, "hydration") || !containsString(profile.ThemeKeywords, "supplements") {
		t.Fatalf("enrichers missing: %v", profile.ThemeKeywords)
	}
	if !containsString(profile.SpecificElements, "hydration springs") {
		t.Fatalf("hydration element missing: %v", profile.SpecificElements)
	}
}

type stubAI struct {
	openai.Client
	obj map[string]any
	err error
}

func (s *stubAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return s.obj, s.err
}

func TestDetectUsesModelResult(t *testing.T) {
	ai := &stubAI{obj: map[string]any{
		"theme_key":         "cardiology",
		"specialty":         "Cardiology",
		"theme_keywords":    []any{"heart health", "circulation"},
		"specific_elements": []any{"heart-shaped groves", "", "pulse beacon towers"},
	}}
	d := NewDetector(logger.NewNop(), ai)

	profile := d.Detect(context.Background(), []mapspec.ChecklistItem{{Title: "anything"}}, "")
	if profile.ThemeKey != "cardiology" || profile.Specialty != "Cardiology" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if len(profile.SpecificElements) != 2 {
		t.Fatalf("blank elements not filtered: %v", profile.SpecificElements)
	}
}

func TestDetectFallsBackOnError(t *testing.T) {
	d := NewDetector(logger.NewNop(), &stubAI{err: errors.New("boom")})
	profile := d.Detect(context.Background(), []mapspec.ChecklistItem{{Title: "Floss daily"}}, "")
	if profile.ThemeKey != "dentistry" {
		t.Fatalf("fallback not used: %+v", profile)
	}
}

func TestDetectWithoutClientUsesAnalyze(t *testing.T) {
	d := NewDetector(logger.NewNop(), nil)
	profile := d.Detect(context.Background(), []mapspec.ChecklistItem{{Title: "Track blood pressure"}}, "")
	if profile.ThemeKey != "cardiology" {
		t.Fatalf("profile = %+v", profile)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
