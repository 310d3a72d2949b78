package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carequest/questmap-backend/internal/domain"
	"github.com/carequest/questmap-backend/internal/mapspec"
	pkgerrors "github.com/carequest/questmap-backend/internal/pkg/errors"
	"github.com/carequest/questmap-backend/internal/platform/logger"
	"github.com/carequest/questmap-backend/internal/repos"
)

// MapView is the API shape for a single map: the persisted row plus its
// decoded spec and neighbor indexes for client-side paging.
type MapView struct {
	ID             string       `json:"id"`
	ConsultationID string       `json:"consultation_id"`
	MapIndex       int          `json:"map_index"`
	StartStepIndex int          `json:"start_step_index"`
	EndStepIndex   int          `json:"end_step_index"`
	Spec           mapspec.Spec `json:"spec"`
	Source         string       `json:"source"`
	Warnings       []string     `json:"warnings"`
	MapImageURL    string       `json:"map_image_url,omitempty"`
	PromptVersion  int          `json:"prompt_version"`
	PrevMapIndex   *int         `json:"prev_map_index,omitempty"`
	NextMapIndex   *int         `json:"next_map_index,omitempty"`
}

// MapService is the read side of the map aggregate.
type MapService interface {
	ListByConsultation(ctx context.Context, consultationID string) ([]MapView, error)
	GetByIndex(ctx context.Context, consultationID string, mapIndex int) (MapView, error)

	// Next and Prev step relative to an existing map index. Walking past
	// either end returns ErrNotFound.
	Next(ctx context.Context, consultationID string, mapIndex int) (MapView, error)
	Prev(ctx context.Context, consultationID string, mapIndex int) (MapView, error)
}

type mapService struct {
	log     *logger.Logger
	mapRepo repos.MapRepo
}

func NewMapService(log *logger.Logger, mapRepo repos.MapRepo) MapService {
	return &mapService{
		log:     log.With("service", "MapService"),
		mapRepo: mapRepo,
	}
}

func (s *mapService) ListByConsultation(ctx context.Context, consultationID string) ([]MapView, error) {
	rows, err := s.mapRepo.ListByConsultation(ctx, nil, consultationID)
	if err != nil {
		return nil, fmt.Errorf("list maps: %w", err)
	}

	views := make([]MapView, 0, len(rows))
	for _, row := range rows {
		view, err := s.toView(row, len(rows))
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *mapService) GetByIndex(ctx context.Context, consultationID string, mapIndex int) (MapView, error) {
	if mapIndex < 0 {
		return MapView{}, fmt.Errorf("%w: map index must be non-negative", pkgerrors.ErrInvalidArgument)
	}

	row, err := s.mapRepo.GetByIndex(ctx, nil, consultationID, mapIndex)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return MapView{}, err
		}
		return MapView{}, fmt.Errorf("get map %d: %w", mapIndex, err)
	}

	total, err := s.mapRepo.CountByConsultation(ctx, nil, consultationID)
	if err != nil {
		return MapView{}, fmt.Errorf("count maps: %w", err)
	}
	return s.toView(row, int(total))
}

func (s *mapService) Next(ctx context.Context, consultationID string, mapIndex int) (MapView, error) {
	if mapIndex < 0 {
		return MapView{}, fmt.Errorf("%w: map index must be non-negative", pkgerrors.ErrInvalidArgument)
	}
	return s.GetByIndex(ctx, consultationID, mapIndex+1)
}

func (s *mapService) Prev(ctx context.Context, consultationID string, mapIndex int) (MapView, error) {
	if mapIndex <= 0 {
		return MapView{}, fmt.Errorf("%w: no map before index %d", pkgerrors.ErrNotFound, mapIndex)
	}
	return s.GetByIndex(ctx, consultationID, mapIndex-1)
}

func (s *mapService) toView(row *domain.ConsultationMap, total int) (MapView, error) {
	var spec mapspec.Spec
	if err := json.Unmarshal(row.MapSpec, &spec); err != nil {
		return MapView{}, fmt.Errorf("decode spec for map %d: %w", row.MapIndex, err)
	}

	warnings := []string{}
	if len(row.ValidationWarnings) > 0 {
		if err := json.Unmarshal(row.ValidationWarnings, &warnings); err != nil {
			s.log.Warn("Unreadable validation warnings", "map_id", row.ID.String(), "error", err.Error())
			warnings = []string{}
		}
	}

	view := MapView{
		ID:             row.ID.String(),
		ConsultationID: row.ConsultationID,
		MapIndex:       row.MapIndex,
		StartStepIndex: row.StartStepIndex,
		EndStepIndex:   row.EndStepIndex,
		Spec:           spec,
		Source:         row.Source,
		Warnings:       warnings,
		MapImageURL:    row.MapImageURL,
		PromptVersion:  row.PromptVersion,
	}
	if row.MapIndex > 0 {
		prev := row.MapIndex - 1
		view.PrevMapIndex = &prev
	}
	if row.MapIndex < total-1 {
		next := row.MapIndex + 1
		view.NextMapIndex = &next
	}
	return view, nil
}
