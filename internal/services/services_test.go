package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/carequest/questmap-backend/internal/chunker"
	"github.com/carequest/questmap-backend/internal/db"
	"github.com/carequest/questmap-backend/internal/domain"
	"github.com/carequest/questmap-backend/internal/mapspec"
	"github.com/carequest/questmap-backend/internal/media"
	pkgerrors "github.com/carequest/questmap-backend/internal/pkg/errors"
	"github.com/carequest/questmap-backend/internal/platform/logger"
	"github.com/carequest/questmap-backend/internal/platform/openai"
	"github.com/carequest/questmap-backend/internal/render"
	"github.com/carequest/questmap-backend/internal/repos"
	"github.com/carequest/questmap-backend/internal/theme"
)

type staticDetector struct {
	profile theme.Profile
}

func (d staticDetector) Detect(ctx context.Context, items []mapspec.ChecklistItem, rawContext string) theme.Profile {
	return d.profile
}

// fakeAI satisfies openai.Client with per-method hooks and call recording.
type fakeAI struct {
	jsonFn   func(schemaName string) (map[string]any, error)
	imageFn  func(prompt string) (openai.ImageGeneration, error)
	editFn   func(prompt string, previous []byte) (openai.ImageGeneration, error)
	visionFn func(user string, images []openai.ImageInput) (string, error)

	imageCalls  int
	editCalls   int
	editPrev    [][]byte
	visionCalls int
}

func (f *fakeAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if f.jsonFn == nil {
		return nil, errors.New("no json generator configured")
	}
	return f.jsonFn(schemaName)
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeAI) GenerateTextWithImages(ctx context.Context, system, user string, images []openai.ImageInput) (string, error) {
	f.visionCalls++
	if f.visionFn == nil {
		return "", errors.New("no vision generator configured")
	}
	return f.visionFn(user, images)
}

func (f *fakeAI) GenerateImage(ctx context.Context, prompt string) (openai.ImageGeneration, error) {
	f.imageCalls++
	if f.imageFn == nil {
		return openai.ImageGeneration{}, errors.New("no image generator configured")
	}
	return f.imageFn(prompt)
}

func (f *fakeAI) EditImage(ctx context.Context, prompt string, previous []byte) (openai.ImageGeneration, error) {
	f.editCalls++
	f.editPrev = append(f.editPrev, previous)
	if f.editFn == nil {
		return openai.ImageGeneration{}, errors.New("no image editor configured")
	}
	return f.editFn(prompt, previous)
}

type testEnv struct {
	mapRepo      repos.MapRepo
	templateRepo repos.ThemeTemplateRepo
	store        media.Store
	renderer     *render.Renderer
	gdb          *gorm.DB
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	t.Setenv("MAPS_DIR", t.TempDir())

	gdb, err := db.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	log := logger.NewNop()
	store, err := media.NewDiskStore(log)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	return testEnv{
		mapRepo:      repos.NewMapRepo(gdb, log),
		templateRepo: repos.NewThemeTemplateRepo(gdb, log),
		store:        store,
		renderer:     render.NewRenderer(log),
		gdb:          gdb,
	}
}

func newService(env testEnv, ai openai.Client, profile theme.Profile, chunkSize int) *mapGenerationService {
	svc := NewMapGenerationService(
		logger.NewNop(),
		env.mapRepo,
		env.templateRepo,
		staticDetector{profile: profile},
		ai,
		env.store,
		env.renderer,
	).(*mapGenerationService)
	svc.sizePicker = chunker.FixedSizePicker(chunkSize)
	return svc
}

func dentalItems(n int) []mapspec.ChecklistItem {
	items := make([]mapspec.ChecklistItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, mapspec.ChecklistItem{
			Title:    fmt.Sprintf("Rinse with salt water, round %d", i+1),
			Category: "medication",
		})
	}
	return items
}

func layoutJSON(stepCount int) string {
	path := make([]map[string]float64, 0, stepCount+2)
	nodes := make([]map[string]any, 0, stepCount)
	for i := 0; i < stepCount+2; i++ {
		y := 0.9 - 0.8*float64(i)/float64(stepCount+1)
		path = append(path, map[string]float64{"x": 0.2 + 0.6*float64(i)/float64(stepCount+1), "y": y})
	}
	for i := 0; i < stepCount; i++ {
		nodes = append(nodes, map[string]any{
			"x": 0.25 + 0.5*float64(i)/float64(stepCount), "y": 0.85 - 0.7*float64(i)/float64(stepCount), "index": i,
		})
	}
	raw, _ := json.Marshal(map[string]any{"path": path, "nodes": nodes})
	return string(raw)
}

func decodeSpec(t *testing.T, raw datatypes.JSON) mapspec.Spec {
	t.Helper()
	var spec mapspec.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		t.Fatalf("decode spec: %v", err)
	}
	return spec
}

func decodeWarnings(t *testing.T, raw datatypes.JSON) []string {
	t.Helper()
	var warnings []string
	if err := json.Unmarshal(raw, &warnings); err != nil {
		t.Fatalf("decode warnings: %v", err)
	}
	return warnings
}

func TestGenerateDisabledUsesFallbackWithPreview(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("USE_AI_MAP_GENERATION", "false")
	svc := newService(env, nil, theme.Profile{ThemeKey: "dentistry", Specialty: "dentistry"}, 4)

	rows, err := svc.GenerateForConsultation(context.Background(), "consult-1", dentalItems(4), "")
	if err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 map, got %d", len(rows))
	}

	row := rows[0]
	if row.Source != string(mapspec.SourceFallback) {
		t.Fatalf("expected fallback source, got %q", row.Source)
	}
	if row.StartStepIndex != 0 || row.EndStepIndex != 3 {
		t.Fatalf("unexpected step range [%d,%d]", row.StartStepIndex, row.EndStepIndex)
	}
	if row.PromptVersion != PromptVersion {
		t.Fatalf("expected prompt version %d, got %d", PromptVersion, row.PromptVersion)
	}
	if row.MapImageURL == "" || !strings.HasPrefix(row.MapImageURL, "/maps/") {
		t.Fatalf("expected rendered preview URL, got %q", row.MapImageURL)
	}

	spec := decodeSpec(t, row.MapSpec)
	if len(spec.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(spec.Nodes))
	}
	for i, n := range spec.Nodes {
		want := fmt.Sprintf("Step %d", i+1)
		if n.Label != want {
			t.Fatalf("node %d label = %q, want %q", i, n.Label, want)
		}
		if n.StageType != "medication" {
			t.Fatalf("node %d stageType = %q", i, n.StageType)
		}
	}
	if spec.Background.ImageURL != row.MapImageURL {
		t.Fatalf("spec background %q != row image %q", spec.Background.ImageURL, row.MapImageURL)
	}

	warnings := decodeWarnings(t, row.ValidationWarnings)
	if len(warnings) == 0 || !strings.Contains(warnings[0], "disabled") {
		t.Fatalf("expected disabled warning, got %v", warnings)
	}
}

func TestGenerateArtworkContinuesAcrossPanels(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("USE_AI_MAP_GENERATION", "true")

	ai := &fakeAI{
		imageFn: func(prompt string) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{Bytes: []byte("artwork-panel-0"), MimeType: "image/png"}, nil
		},
		editFn: func(prompt string, previous []byte) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{Bytes: []byte("artwork-panel-next"), MimeType: "image/png"}, nil
		},
		visionFn: func(user string, images []openai.ImageInput) (string, error) {
			return layoutJSON(3), nil
		},
	}
	profile := theme.Profile{ThemeKey: "dentistry", Specialty: "dentistry"}
	svc := newService(env, ai, profile, 3)

	rows, err := svc.GenerateForConsultation(context.Background(), "consult-2", dentalItems(6), "")
	if err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 maps, got %d", len(rows))
	}

	if ai.imageCalls != 1 {
		t.Fatalf("expected 1 fresh generation, got %d", ai.imageCalls)
	}
	if ai.editCalls != 1 {
		t.Fatalf("expected 1 continuation edit, got %d", ai.editCalls)
	}
	if string(ai.editPrev[0]) != "artwork-panel-0" {
		t.Fatalf("continuation did not receive previous artwork bytes: %q", ai.editPrev[0])
	}

	for i, row := range rows {
		if row.Source != string(mapspec.SourceAI) {
			t.Fatalf("map %d source = %q", i, row.Source)
		}
		if row.MapImageURL == "" {
			t.Fatalf("map %d missing artwork URL", i)
		}
		spec := decodeSpec(t, row.MapSpec)
		if len(spec.Nodes) != 3 {
			t.Fatalf("map %d node count = %d", i, len(spec.Nodes))
		}
		if spec.StyleTier != mapspec.StyleAIArt {
			t.Fatalf("map %d style = %q", i, spec.StyleTier)
		}
	}

	if rows[1].StartStepIndex != 3 || rows[1].EndStepIndex != 5 {
		t.Fatalf("second map range [%d,%d], want [3,5]", rows[1].StartStepIndex, rows[1].EndStepIndex)
	}
	// Step numbering continues across panels.
	second := decodeSpec(t, rows[1].MapSpec)
	if second.Nodes[0].Label != "Step 4" {
		t.Fatalf("second panel first label = %q, want Step 4", second.Nodes[0].Label)
	}

	// The first panel seeds a reusable template.
	tmpl, err := env.templateRepo.FindByKey(context.Background(), nil, "dentistry", 3, PromptVersion)
	if err != nil {
		t.Fatalf("FindByKey after generation: %v", err)
	}
	if tmpl.UsageCount != 1 {
		t.Fatalf("template usage = %d, want 1", tmpl.UsageCount)
	}
}

func TestLayoutFailureKeepsArtwork(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("USE_AI_MAP_GENERATION", "true")

	ai := &fakeAI{
		imageFn: func(prompt string) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{Bytes: []byte("artwork"), MimeType: "image/png"}, nil
		},
		visionFn: func(user string, images []openai.ImageInput) (string, error) {
			return "I could not find any checkpoints.", nil
		},
		jsonFn: func(schemaName string) (map[string]any, error) {
			return nil, errors.New("model unavailable")
		},
	}
	svc := newService(env, ai, theme.Profile{ThemeKey: "nutrition", Specialty: "nutrition"}, 3)

	rows, err := svc.GenerateForConsultation(context.Background(), "consult-3", dentalItems(3), "")
	if err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}
	row := rows[0]
	if row.Source != string(mapspec.SourceFallback) {
		t.Fatalf("expected fallback source, got %q", row.Source)
	}
	if row.MapImageURL == "" || row.MapImagePath == "" {
		t.Fatal("artwork should survive layout failure")
	}
	spec := decodeSpec(t, row.MapSpec)
	if spec.Background.ImageURL != row.MapImageURL {
		t.Fatalf("spec background %q != artwork %q", spec.Background.ImageURL, row.MapImageURL)
	}
	warnings := decodeWarnings(t, row.ValidationWarnings)
	joined := strings.Join(warnings, " | ")
	if !strings.Contains(joined, "layout analysis failed") {
		t.Fatalf("expected layout failure warning, got %v", warnings)
	}
}

func TestMidSequenceArtworkFailureReusesPreviousArtwork(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("USE_AI_MAP_GENERATION", "true")

	ai := &fakeAI{
		imageFn: func(prompt string) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{Bytes: []byte("first-panel-artwork"), MimeType: "image/png"}, nil
		},
		editFn: func(prompt string, previous []byte) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{}, errors.New("edit backend down")
		},
		visionFn: func(user string, images []openai.ImageInput) (string, error) {
			return layoutJSON(3), nil
		},
		jsonFn: func(schemaName string) (map[string]any, error) {
			return nil, errors.New("model unavailable")
		},
	}
	svc := newService(env, ai, theme.Profile{ThemeKey: "dentistry", Specialty: "dentistry"}, 3)

	rows, err := svc.GenerateForConsultation(context.Background(), "consult-9", dentalItems(9), "")
	if err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 maps, got %d", len(rows))
	}
	if rows[0].MapImageURL == "" {
		t.Fatal("first panel missing artwork")
	}

	// Later panels keep showing the last good artwork.
	for i := 1; i < 3; i++ {
		if rows[i].MapImageURL != rows[0].MapImageURL {
			t.Fatalf("panel %d background %q != first panel artwork %q", i, rows[i].MapImageURL, rows[0].MapImageURL)
		}
		spec := decodeSpec(t, rows[i].MapSpec)
		if spec.Background.ImageURL != rows[0].MapImageURL {
			t.Fatalf("panel %d spec background %q", i, spec.Background.ImageURL)
		}
		warnings := decodeWarnings(t, rows[i].ValidationWarnings)
		if !strings.Contains(strings.Join(warnings, " | "), "previous panel artwork reused") {
			t.Fatalf("panel %d warnings %v", i, warnings)
		}
	}

	// The chain never advances past panel 0, so every edit attempt starts
	// from the same artwork.
	if ai.editCalls != 2 {
		t.Fatalf("edit attempts = %d, want 2", ai.editCalls)
	}
	for i, prev := range ai.editPrev {
		if string(prev) != "first-panel-artwork" {
			t.Fatalf("edit %d received %q", i, prev)
		}
	}
}

func TestArtworkFailureFallsBackWithoutImageAdvance(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("USE_AI_MAP_GENERATION", "true")

	ai := &fakeAI{
		imageFn: func(prompt string) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{}, errors.New("image backend down")
		},
		jsonFn: func(schemaName string) (map[string]any, error) {
			return nil, errors.New("model unavailable")
		},
	}
	svc := newService(env, ai, theme.Profile{ThemeKey: "general_wellness", Specialty: "general wellness"}, 3)

	rows, err := svc.GenerateForConsultation(context.Background(), "consult-4", dentalItems(6), "")
	if err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 maps, got %d", len(rows))
	}
	// Both chunks fail artwork independently; nothing to continue from.
	if ai.editCalls != 0 {
		t.Fatalf("no continuation edits expected, got %d", ai.editCalls)
	}
	if ai.imageCalls != 2 {
		t.Fatalf("expected 2 fresh generation attempts, got %d", ai.imageCalls)
	}
	for i, row := range rows {
		if row.Source != string(mapspec.SourceFallback) {
			t.Fatalf("map %d source = %q", i, row.Source)
		}
	}
}

func TestTemplateReuseSkipsGenerationForFirstPanel(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("USE_AI_MAP_GENERATION", "true")

	cachedSpec := mapspec.BuildFallbackSpec(mapspec.Signals{ChecklistCount: 3}, 3)
	specJSON, _ := json.Marshal(cachedSpec)
	now := time.Now().UTC()
	if _, err := env.templateRepo.CreateIfAbsent(context.Background(), nil, &domain.MapThemeTemplate{
		ThemeKey:      "dentistry",
		StepCount:     3,
		PromptVersion: PromptVersion,
		MapSpec:       datatypes.JSON(specJSON),
		ThemeProfile:  datatypes.JSON(`{}`),
		MapImageURL:   "/maps/cached.png",
		MapImagePath:  "/tmp/does-not-exist/cached.png",
		UsageCount:    1,
		LastUsedAt:    &now,
	}); err != nil {
		t.Fatalf("seed template: %v", err)
	}

	ai := &fakeAI{
		jsonFn: func(schemaName string) (map[string]any, error) {
			return nil, errors.New("should not be needed")
		},
	}
	svc := newService(env, ai, theme.Profile{ThemeKey: "dentistry", Specialty: "dentistry"}, 3)

	rows, err := svc.GenerateForConsultation(context.Background(), "consult-5", dentalItems(3), "")
	if err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}
	if ai.imageCalls != 0 || ai.editCalls != 0 {
		t.Fatalf("template hit should skip artwork, got image=%d edit=%d", ai.imageCalls, ai.editCalls)
	}

	row := rows[0]
	if row.Source != string(mapspec.SourceAI) {
		t.Fatalf("template reuse source = %q", row.Source)
	}
	if row.MapImageURL != "/maps/cached.png" {
		t.Fatalf("template image not carried: %q", row.MapImageURL)
	}
	warnings := decodeWarnings(t, row.ValidationWarnings)
	if len(warnings) != 1 || !strings.Contains(warnings[0], "Reused cached template") {
		t.Fatalf("expected reuse warning, got %v", warnings)
	}

	tmpl, err := env.templateRepo.FindByKey(context.Background(), nil, "dentistry", 3, PromptVersion)
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if tmpl.UsageCount != 2 {
		t.Fatalf("usage count = %d, want 2", tmpl.UsageCount)
	}
	if tmpl.LastUsedAt == nil {
		t.Fatal("last used timestamp not set")
	}
}

func TestGenerateSanitizedModelSpec(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("USE_AI_MAP_GENERATION", "true")

	// The model returns a messy spec; sanitize must repair it and keep the
	// node count pinned to the chunk size.
	ai := &fakeAI{
		imageFn: func(prompt string) (openai.ImageGeneration, error) {
			return openai.ImageGeneration{}, errors.New("image backend down")
		},
		jsonFn: func(schemaName string) (map[string]any, error) {
			return map[string]any{
				"themeId": "haunted_castle",
				"path": []any{
					map[string]any{"x": 0.1, "y": 1.8},
					map[string]any{"x": -2.0, "y": 0.5},
					map[string]any{"x": 0.9, "y": 0.1},
				},
				"nodes": []any{
					map[string]any{"id": "a", "x": 0.2, "y": 0.8},
				},
			}, nil
		},
	}
	svc := newService(env, ai, theme.Profile{ThemeKey: "nutrition", Specialty: "nutrition"}, 3)

	rows, err := svc.GenerateForConsultation(context.Background(), "consult-6", dentalItems(3), "")
	if err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}
	spec := decodeSpec(t, rows[0].MapSpec)
	if len(spec.Nodes) != 3 {
		t.Fatalf("node count = %d, want 3", len(spec.Nodes))
	}
	if spec.ThemeID != mapspec.ThemeWellnessGeneric {
		t.Fatalf("unknown theme not coerced: %q", spec.ThemeID)
	}
	if spec.Meta.Source != mapspec.SourceAI {
		t.Fatalf("model-written spec source = %q", spec.Meta.Source)
	}
	if rows[0].Source != string(mapspec.SourceAI) {
		t.Fatalf("row source = %q", rows[0].Source)
	}
	for _, p := range spec.Path {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Fatalf("unclamped path point %+v", p)
		}
	}
}

func TestGenerateRejectsEmptyChecklist(t *testing.T) {
	env := newTestEnv(t)
	svc := newService(env, nil, theme.Profile{ThemeKey: "general_wellness"}, 4)

	_, err := svc.GenerateForConsultation(context.Background(), "consult-7", nil, "")
	if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMapServiceNavigation(t *testing.T) {
	env := newTestEnv(t)
	gen := newService(env, nil, theme.Profile{ThemeKey: "dentistry"}, 3)

	if _, err := gen.GenerateForConsultation(context.Background(), "consult-8", dentalItems(6), ""); err != nil {
		t.Fatalf("GenerateForConsultation: %v", err)
	}

	svc := NewMapService(logger.NewNop(), env.mapRepo)
	views, err := svc.ListByConsultation(context.Background(), "consult-8")
	if err != nil {
		t.Fatalf("ListByConsultation: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if views[0].PrevMapIndex != nil {
		t.Fatal("first map should have no previous")
	}
	if views[0].NextMapIndex == nil || *views[0].NextMapIndex != 1 {
		t.Fatalf("first map next = %v", views[0].NextMapIndex)
	}

	last, err := svc.GetByIndex(context.Background(), "consult-8", 1)
	if err != nil {
		t.Fatalf("GetByIndex: %v", err)
	}
	if last.PrevMapIndex == nil || *last.PrevMapIndex != 0 {
		t.Fatalf("last map prev = %v", last.PrevMapIndex)
	}
	if last.NextMapIndex != nil {
		t.Fatal("last map should have no next")
	}
	if len(last.Spec.Nodes) != 3 {
		t.Fatalf("decoded node count = %d", len(last.Spec.Nodes))
	}

	if _, err := svc.GetByIndex(context.Background(), "consult-8", 9); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetByIndex(context.Background(), "consult-8", -1); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	next, err := svc.Next(context.Background(), "consult-8", 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if next.MapIndex != 1 {
		t.Fatalf("Next index = %d", next.MapIndex)
	}
	prev, err := svc.Prev(context.Background(), "consult-8", 1)
	if err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if prev.MapIndex != 0 {
		t.Fatalf("Prev index = %d", prev.MapIndex)
	}
	if _, err := svc.Next(context.Background(), "consult-8", 1); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Next past end: %v", err)
	}
	if _, err := svc.Prev(context.Background(), "consult-8", 0); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("Prev before start: %v", err)
	}
}
