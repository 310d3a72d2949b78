package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/carequest/questmap-backend/internal/chunker"
	"github.com/carequest/questmap-backend/internal/domain"
	"github.com/carequest/questmap-backend/internal/mapspec"
	"github.com/carequest/questmap-backend/internal/media"
	pkgerrors "github.com/carequest/questmap-backend/internal/pkg/errors"
	"github.com/carequest/questmap-backend/internal/platform/envutil"
	"github.com/carequest/questmap-backend/internal/platform/logger"
	"github.com/carequest/questmap-backend/internal/platform/openai"
	"github.com/carequest/questmap-backend/internal/render"
	"github.com/carequest/questmap-backend/internal/repos"
	"github.com/carequest/questmap-backend/internal/theme"
)

// ThemeDetector resolves the consultation-wide theme profile.
type ThemeDetector interface {
	Detect(ctx context.Context, items []mapspec.ChecklistItem, rawContext string) theme.Profile
}

// MapGenerationService turns a consultation checklist into a persisted series
// of journey maps.
type MapGenerationService interface {
	GenerateForConsultation(ctx context.Context, consultationID string, items []mapspec.ChecklistItem, rawContext string) ([]*domain.ConsultationMap, error)
}

type mapGenerationService struct {
	log          *logger.Logger
	mapRepo      repos.MapRepo
	templateRepo repos.ThemeTemplateRepo
	detector     ThemeDetector
	ai           openai.Client
	store        media.Store
	renderer     *render.Renderer
	sizePicker   chunker.SizePicker
}

// NewMapGenerationService wires the full pipeline. ai may be nil; generation
// then runs entirely on the procedural path.
func NewMapGenerationService(
	log *logger.Logger,
	mapRepo repos.MapRepo,
	templateRepo repos.ThemeTemplateRepo,
	detector ThemeDetector,
	ai openai.Client,
	store media.Store,
	renderer *render.Renderer,
) MapGenerationService {
	return &mapGenerationService{
		log:          log.With("service", "MapGenerationService"),
		mapRepo:      mapRepo,
		templateRepo: templateRepo,
		detector:     detector,
		ai:           ai,
		store:        store,
		renderer:     renderer,
		sizePicker:   chunker.RandomSizePicker(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
}

func (s *mapGenerationService) aiEnabled() bool {
	return s.ai != nil && envutil.Bool("USE_AI_MAP_GENERATION", false)
}

func (s *mapGenerationService) GenerateForConsultation(ctx context.Context, consultationID string, items []mapspec.ChecklistItem, rawContext string) ([]*domain.ConsultationMap, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no checklist items", pkgerrors.ErrInvalidArgument)
	}

	// One consultation-wide theme so every panel shares the same identity.
	profile := s.detector.Detect(ctx, items, rawContext)
	s.log.Info("Theme detected",
		"consultation_id", consultationID,
		"theme_key", profile.ThemeKey,
		"specialty", profile.Specialty,
	)

	chunks := chunker.Chunk(items, s.sizePicker)
	out := make([]*domain.ConsultationMap, 0, len(chunks))

	// Panels run in order: map N continues the artwork of map N-1.
	var previousImage media.SavedImage
	for mapIndex, chunk := range chunks {
		start, end := chunker.Bounds(chunks, mapIndex)

		row, artwork, err := s.generateOne(ctx, generateInput{
			consultationID: consultationID,
			mapIndex:       mapIndex,
			chunk:          chunk,
			startIndex:     start,
			endIndex:       end - 1,
			profile:        profile,
			previousImage:  previousImage,
		})
		if err != nil {
			return nil, fmt.Errorf("generate map %d: %w", mapIndex, err)
		}
		if artwork.Path != "" {
			previousImage = artwork
		}

		if err := s.mapRepo.Create(ctx, nil, row); err != nil {
			return nil, fmt.Errorf("persist map %d: %w", mapIndex, err)
		}
		out = append(out, row)
	}

	s.log.Info("Maps generated", "consultation_id", consultationID, "count", len(out))
	return out, nil
}

type generateInput struct {
	consultationID string
	mapIndex       int
	chunk          []mapspec.ChecklistItem
	startIndex     int
	endIndex       int
	profile        theme.Profile
	previousImage  media.SavedImage
}

// generateOne produces a single unsaved map row plus the artwork the next
// panel should continue from (zero value when no artwork was produced).
func (s *mapGenerationService) generateOne(ctx context.Context, in generateInput) (*domain.ConsultationMap, media.SavedImage, error) {
	stepCount := len(in.chunk)
	signals := mapspec.DeriveSignals(in.chunk)

	// Template reuse applies to the first panel only; later panels must
	// continue the artwork of this specific consultation.
	if in.mapIndex == 0 && s.aiEnabled() {
		if row, img, ok := s.tryReuseTemplate(ctx, in, stepCount); ok {
			return row, img, nil
		}
	}

	if !s.aiEnabled() {
		return s.generateProcedural(ctx, in, signals, stepCount)
	}
	return s.generateWithArtwork(ctx, in, signals, stepCount)
}

func (s *mapGenerationService) tryReuseTemplate(ctx context.Context, in generateInput, stepCount int) (*domain.ConsultationMap, media.SavedImage, bool) {
	tmpl, err := s.templateRepo.FindByKey(ctx, nil, in.profile.ThemeKey, stepCount, PromptVersion)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrNotFound) {
			s.log.Warn("Template lookup failed", "error", err.Error())
		}
		return nil, media.SavedImage{}, false
	}

	if err := s.templateRepo.IncrementUsage(ctx, nil, tmpl.ID.String()); err != nil {
		s.log.Warn("Template usage increment failed", "error", err.Error())
	}

	warning := fmt.Sprintf("Reused cached template for theme %q (%d steps).", in.profile.Specialty, stepCount)
	row := &domain.ConsultationMap{
		ConsultationID:     in.consultationID,
		MapIndex:           in.mapIndex,
		StartStepIndex:     in.startIndex,
		EndStepIndex:       in.endIndex,
		MapSpec:            tmpl.MapSpec,
		Source:             string(mapspec.SourceAI),
		ValidationWarnings: warningsJSON(warning),
		MapImageURL:        tmpl.MapImageURL,
		MapImagePath:       tmpl.MapImagePath,
		PromptVersion:      PromptVersion,
	}
	return row, media.SavedImage{Path: tmpl.MapImagePath, URL: tmpl.MapImageURL}, true
}

// generateProcedural is the no-artwork path: a model-written or fallback
// spec plus a locally rendered preview image.
func (s *mapGenerationService) generateProcedural(ctx context.Context, in generateInput, signals mapspec.Signals, stepCount int) (*domain.ConsultationMap, media.SavedImage, error) {
	spec, source, validation := s.specForChunk(ctx, in.chunk, signals, in.startIndex, stepCount)

	var imageURL, imagePath string
	if s.renderer != nil && s.store != nil {
		if raw, err := s.renderer.RenderPreview(spec); err != nil {
			s.log.Warn("Preview render failed", "error", err.Error())
		} else if saved, err := s.store.SaveMapImage(in.consultationID, in.mapIndex, raw, "image/png"); err != nil {
			s.log.Warn("Preview save failed", "error", err.Error())
		} else {
			imageURL = saved.URL
			imagePath = saved.Path
			spec.Background.ImageURL = saved.URL
		}
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, media.SavedImage{}, fmt.Errorf("marshal spec: %w", err)
	}

	row := &domain.ConsultationMap{
		ConsultationID:     in.consultationID,
		MapIndex:           in.mapIndex,
		StartStepIndex:     in.startIndex,
		EndStepIndex:       in.endIndex,
		MapSpec:            datatypes.JSON(specJSON),
		Source:             string(source),
		ValidationWarnings: warningsJSON(validation.Warnings...),
		MapImageURL:        imageURL,
		MapImagePath:       imagePath,
		PromptVersion:      PromptVersion,
	}
	// Preview images are not continuation material.
	return row, media.SavedImage{}, nil
}

// generateWithArtwork is the full pipeline: artwork, vision layout, spec.
// When a mid-sequence artwork request fails, the previous panel's artwork
// stays attached so the series remains visually continuous; layout failures
// keep the new artwork but fall back to a procedural spec.
func (s *mapGenerationService) generateWithArtwork(ctx context.Context, in generateInput, signals mapspec.Signals, stepCount int) (*domain.ConsultationMap, media.SavedImage, error) {
	art, err := s.generateArtwork(ctx, in)
	if err != nil {
		s.log.Warn("Artwork generation failed; falling back",
			"consultation_id", in.consultationID, "map_index", in.mapIndex, "error", err.Error())
		if in.previousImage.URL == "" {
			return s.generateProcedural(ctx, in, signals, stepCount)
		}
		return s.fallbackWithPreviousArtwork(ctx, in, signals, stepCount)
	}

	saved, err := s.store.SaveMapImage(in.consultationID, in.mapIndex, art.Bytes, art.MimeType)
	if err != nil {
		s.log.Warn("Artwork save failed; falling back", "error", err.Error())
		if in.previousImage.URL == "" {
			return s.generateProcedural(ctx, in, signals, stepCount)
		}
		return s.fallbackWithPreviousArtwork(ctx, in, signals, stepCount)
	}

	layout, err := s.analyzeLayout(ctx, art, stepCount, in.chunk)
	if err != nil {
		// Keep the artwork: the next panel still continues from it and the
		// client can render the fallback spec on top of it.
		s.log.Warn("Layout analysis failed; keeping artwork with fallback spec",
			"consultation_id", in.consultationID, "map_index", in.mapIndex, "error", err.Error())
		spec, source, validation := s.specForChunk(ctx, in.chunk, signals, in.startIndex, stepCount)
		spec.Background.ImageURL = saved.URL

		specJSON, mErr := json.Marshal(spec)
		if mErr != nil {
			return nil, media.SavedImage{}, fmt.Errorf("marshal spec: %w", mErr)
		}
		warnings := append(validation.Warnings, "Artwork layout analysis failed; fallback layout used.")
		row := &domain.ConsultationMap{
			ConsultationID:     in.consultationID,
			MapIndex:           in.mapIndex,
			StartStepIndex:     in.startIndex,
			EndStepIndex:       in.endIndex,
			MapSpec:            datatypes.JSON(specJSON),
			Source:             string(source),
			ValidationWarnings: warningsJSON(warnings...),
			MapImageURL:        saved.URL,
			MapImagePath:       saved.Path,
			PromptVersion:      PromptVersion,
		}
		return row, saved, nil
	}

	spec := s.buildSpecFromLayout(layout, in.chunk, in.startIndex, saved.URL, stepCount)
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, media.SavedImage{}, fmt.Errorf("marshal spec: %w", err)
	}

	if in.mapIndex == 0 {
		s.storeTemplate(ctx, in.profile, stepCount, specJSON, saved)
	}

	warning := fmt.Sprintf("Created new map for theme %q (%d steps) with image analysis.", in.profile.Specialty, stepCount)
	row := &domain.ConsultationMap{
		ConsultationID:     in.consultationID,
		MapIndex:           in.mapIndex,
		StartStepIndex:     in.startIndex,
		EndStepIndex:       in.endIndex,
		MapSpec:            datatypes.JSON(specJSON),
		Source:             string(mapspec.SourceAI),
		ValidationWarnings: warningsJSON(warning),
		MapImageURL:        saved.URL,
		MapImagePath:       saved.Path,
		PromptVersion:      PromptVersion,
	}
	return row, saved, nil
}

// fallbackWithPreviousArtwork builds a procedural spec but keeps the last
// good panel's artwork as the background. The continuation chain does not
// advance; the next panel still edits that same artwork.
func (s *mapGenerationService) fallbackWithPreviousArtwork(ctx context.Context, in generateInput, signals mapspec.Signals, stepCount int) (*domain.ConsultationMap, media.SavedImage, error) {
	spec, source, validation := s.specForChunk(ctx, in.chunk, signals, in.startIndex, stepCount)
	spec.Background.ImageURL = in.previousImage.URL

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, media.SavedImage{}, fmt.Errorf("marshal spec: %w", err)
	}
	warnings := append(validation.Warnings, "Artwork generation failed; previous panel artwork reused.")
	row := &domain.ConsultationMap{
		ConsultationID:     in.consultationID,
		MapIndex:           in.mapIndex,
		StartStepIndex:     in.startIndex,
		EndStepIndex:       in.endIndex,
		MapSpec:            datatypes.JSON(specJSON),
		Source:             string(source),
		ValidationWarnings: warningsJSON(warnings...),
		MapImageURL:        in.previousImage.URL,
		MapImagePath:       in.previousImage.Path,
		PromptVersion:      PromptVersion,
	}
	return row, media.SavedImage{}, nil
}

func (s *mapGenerationService) generateArtwork(ctx context.Context, in generateInput) (openai.ImageGeneration, error) {
	prompt := buildImagePrompt(in.profile, in.mapIndex+1)

	if in.previousImage.Path != "" && s.store != nil {
		prev, err := s.store.Load(in.previousImage.Path)
		if err != nil {
			s.log.Warn("Previous artwork unavailable; generating fresh", "path", in.previousImage.Path, "error", err.Error())
		} else {
			return s.ai.EditImage(ctx, prompt, prev)
		}
	}
	return s.ai.GenerateImage(ctx, prompt)
}

type layoutResult struct {
	Path  []mapspec.Point
	Nodes []mapspec.Point
}

// analyzeLayout asks the vision model where the checkpoints landed in the
// artwork. The node count must match exactly; anything else is an error.
func (s *mapGenerationService) analyzeLayout(ctx context.Context, art openai.ImageGeneration, stepCount int, items []mapspec.ChecklistItem) (layoutResult, error) {
	var out layoutResult

	text, err := s.ai.GenerateTextWithImages(ctx, "", buildLayoutPrompt(stepCount, items), []openai.ImageInput{
		{ImageURL: media.DataURL(art.Bytes, art.MimeType)},
	})
	if err != nil {
		return out, err
	}

	jsonStr := extractJSONObject(text)
	if jsonStr == "" {
		return out, fmt.Errorf("no JSON object in layout response")
	}

	var parsed struct {
		Path []struct {
			X, Y *float64
		} `json:"path"`
		Nodes []struct {
			X, Y *float64
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return out, fmt.Errorf("parse layout JSON: %w", err)
	}

	for _, p := range parsed.Path {
		if p.X == nil || p.Y == nil {
			continue
		}
		out.Path = append(out.Path, mapspec.Point{X: mapspec.Clamp01(*p.X), Y: mapspec.Clamp01(*p.Y)})
	}
	for _, n := range parsed.Nodes {
		if n.X == nil || n.Y == nil {
			continue
		}
		if len(out.Nodes) == stepCount {
			break
		}
		out.Nodes = append(out.Nodes, mapspec.Point{X: mapspec.Clamp01(*n.X), Y: mapspec.Clamp01(*n.Y)})
	}

	if len(out.Path) == 0 || len(out.Nodes) != stepCount {
		return out, fmt.Errorf("invalid layout: path=%d nodes=%d expected=%d", len(out.Path), len(out.Nodes), stepCount)
	}
	return out, nil
}

// buildSpecFromLayout assembles the renderable spec around extracted
// checkpoint positions and the artwork URL.
func (s *mapGenerationService) buildSpecFromLayout(layout layoutResult, items []mapspec.ChecklistItem, startIndex int, imageURL string, stepCount int) mapspec.Spec {
	nodes := make([]mapspec.Node, 0, stepCount)
	for i, p := range layout.Nodes {
		stageType := "general"
		if i < len(items) && strings.TrimSpace(items[i].Category) != "" {
			stageType = strings.ToLower(strings.TrimSpace(items[i].Category))
		}
		nodes = append(nodes, mapspec.Node{
			ID:        fmt.Sprintf("node-%d", i),
			Index:     i,
			StageType: stageType,
			Label:     fmt.Sprintf("Step %d", startIndex+i+1),
			X:         p.X,
			Y:         p.Y,
		})
	}

	first := mapspec.Point{X: 0.5, Y: 0.9}
	if len(nodes) > 0 {
		first = mapspec.Point{X: nodes[0].X, Y: nodes[0].Y}
	}

	return mapspec.Spec{
		Version:   1,
		ThemeID:   mapspec.ThemeWellnessGeneric,
		StyleTier: mapspec.StyleAIArt,
		Palette:   mapspec.PaletteForTheme(mapspec.ThemeWellnessGeneric),
		Background: mapspec.Background{
			ImageURL: imageURL,
		},
		Path:  layout.Path,
		Nodes: nodes,
		Decor: []mapspec.Decor{},
		Character: mapspec.CharacterSpawn{
			Skin: "explorer_default",
			X:    first.X,
			Y:    first.Y,
		},
		Meta: mapspec.Meta{
			Source:         mapspec.SourceAI,
			Seed:           time.Now().UnixMilli() % 1000000,
			ChecklistCount: stepCount,
		},
	}
}

// specForChunk builds the spec without artwork: a model-written JSON spec
// when the model is reachable, the procedural fallback otherwise. Output
// always passes through Sanitize.
func (s *mapGenerationService) specForChunk(ctx context.Context, items []mapspec.ChecklistItem, signals mapspec.Signals, startIndex, stepCount int) (mapspec.Spec, mapspec.Source, mapspec.Validation) {
	fallback := mapspec.BuildFallbackSpec(signals, stepCount)
	relabelNodes(&fallback, items, startIndex)

	if !s.aiEnabled() {
		return fallback, mapspec.SourceFallback, mapspec.Validation{
			Ok:       true,
			Warnings: []string{"AI map generation disabled or unavailable; fallback used."},
		}
	}

	obj, err := s.ai.GenerateJSON(ctx, mapSpecSystemPrompt,
		buildMapSpecPrompt(signals, stepCount, startIndex, items), "map_spec", mapSpecSchema)
	if err != nil {
		s.log.Warn("Map spec generation failed; fallback used", "error", err.Error())
		return fallback, mapspec.SourceFallback, mapspec.Validation{
			Ok:       false,
			Warnings: []string{fmt.Sprintf("AI map generation failed; fallback used. %v", err)},
		}
	}

	spec, validation := mapspec.Sanitize(obj, stepCount, fallback.Path)
	spec.Meta.Source = mapspec.SourceAI
	relabelNodes(&spec, items, startIndex)
	return spec, mapspec.SourceAI, validation
}

// relabelNodes maps node identity onto the global checklist positions.
func relabelNodes(spec *mapspec.Spec, items []mapspec.ChecklistItem, startIndex int) {
	for i := range spec.Nodes {
		spec.Nodes[i].Label = fmt.Sprintf("Step %d", startIndex+i+1)
		if i < len(items) && strings.TrimSpace(items[i].Category) != "" {
			spec.Nodes[i].StageType = strings.ToLower(strings.TrimSpace(items[i].Category))
		}
	}
}

func (s *mapGenerationService) storeTemplate(ctx context.Context, profile theme.Profile, stepCount int, specJSON []byte, saved media.SavedImage) {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		s.log.Warn("Template profile marshal failed", "error", err.Error())
		profileJSON = []byte("{}")
	}
	now := time.Now().UTC()

	if _, err := s.templateRepo.CreateIfAbsent(ctx, nil, &domain.MapThemeTemplate{
		ThemeKey:      profile.ThemeKey,
		StepCount:     stepCount,
		PromptVersion: PromptVersion,
		MapSpec:       datatypes.JSON(specJSON),
		ThemeProfile:  datatypes.JSON(profileJSON),
		MapImageURL:   saved.URL,
		MapImagePath:  saved.Path,
		UsageCount:    1,
		LastUsedAt:    &now,
	}); err != nil {
		// Losing a create race is fine; the winner's template serves everyone.
		s.log.Warn("Template create skipped", "theme_key", profile.ThemeKey, "error", err.Error())
	}
}

func warningsJSON(warnings ...string) datatypes.JSON {
	if len(warnings) == 0 {
		warnings = []string{}
	}
	raw, err := json.Marshal(warnings)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

// extractJSONObject pulls the outermost {...} from model text that may wrap
// JSON in prose or code fences.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
