package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/carequest/questmap-backend/internal/mapspec"
	pkgerrors "github.com/carequest/questmap-backend/internal/pkg/errors"
	"github.com/carequest/questmap-backend/internal/services"
)

type MapsHandler struct {
	generationService services.MapGenerationService
	mapService        services.MapService
}

func NewMapsHandler(generationService services.MapGenerationService, mapService services.MapService) *MapsHandler {
	return &MapsHandler{
		generationService: generationService,
		mapService:        mapService,
	}
}

// Generate builds and persists the full map series for one consultation's
// checklist. Re-posting the same consultation fails on the unique index.
func (mh *MapsHandler) Generate(c *gin.Context) {
	consultationID := strings.TrimSpace(c.Param("id"))
	if consultationID == "" {
		RespondError(c, http.StatusBadRequest, "missing_consultation_id", errors.New("consultation id is required"))
		return
	}

	var req struct {
		Items []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Category    string `json:"category"`
		} `json:"items"`
		RawContext string `json:"raw_context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("invalid request body"))
		return
	}
	if len(req.Items) == 0 {
		RespondError(c, http.StatusBadRequest, "empty_checklist", errors.New("at least one checklist item is required"))
		return
	}

	items := make([]mapspec.ChecklistItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, mapspec.ChecklistItem{
			Title:       it.Title,
			Description: it.Description,
			Category:    it.Category,
		})
	}

	rows, err := mh.generationService.GenerateForConsultation(c.Request.Context(), consultationID, items, req.RawContext)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidArgument) {
			RespondError(c, http.StatusBadRequest, "invalid_checklist", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "generation_failed", err)
		return
	}

	views, err := mh.mapService.ListByConsultation(c.Request.Context(), consultationID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"maps": views, "count": len(rows)})
}

func (mh *MapsHandler) List(c *gin.Context) {
	consultationID := strings.TrimSpace(c.Param("id"))
	if consultationID == "" {
		RespondError(c, http.StatusBadRequest, "missing_consultation_id", errors.New("consultation id is required"))
		return
	}

	views, err := mh.mapService.ListByConsultation(c.Request.Context(), consultationID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"maps": views, "count": len(views)})
}

func (mh *MapsHandler) GetByIndex(c *gin.Context) {
	mh.respondWithView(c, mh.mapService.GetByIndex)
}

func (mh *MapsHandler) Next(c *gin.Context) {
	mh.respondWithView(c, mh.mapService.Next)
}

func (mh *MapsHandler) Prev(c *gin.Context) {
	mh.respondWithView(c, mh.mapService.Prev)
}

func (mh *MapsHandler) respondWithView(c *gin.Context, fetch func(ctx context.Context, consultationID string, mapIndex int) (services.MapView, error)) {
	consultationID := strings.TrimSpace(c.Param("id"))
	if consultationID == "" {
		RespondError(c, http.StatusBadRequest, "missing_consultation_id", errors.New("consultation id is required"))
		return
	}
	mapIndex, err := strconv.Atoi(c.Param("mapIndex"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_map_index", errors.New("map index must be an integer"))
		return
	}

	view, err := fetch(c.Request.Context(), consultationID, mapIndex)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			RespondError(c, http.StatusNotFound, "map_not_found", err)
		case errors.Is(err, pkgerrors.ErrInvalidArgument):
			RespondError(c, http.StatusBadRequest, "invalid_map_index", err)
		default:
			RespondError(c, http.StatusInternalServerError, "get_failed", err)
		}
		return
	}
	RespondOK(c, view)
}
