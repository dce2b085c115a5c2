package record

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/eleven-am/scribe-backend/internal/clinical"
	"github.com/eleven-am/scribe-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

// EntitySummarizer counts clinical entities in a transcript.
type EntitySummarizer interface {
	Summary(text string) map[clinical.Category]int
}

type Handler struct {
	store    *Store
	entities EntitySummarizer
	logger   *slog.Logger
}

func NewHandler(store *Store, entities EntitySummarizer, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		entities: entities,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("/:id/analysis", h.GetAnalysis)
}

type CreateTranscriptionRequest struct {
	DoctorID  *int64 `json:"doctor_id"`
	PatientID *int64 `json:"patient_id"`
	Language  string `json:"language"`
}

// @Summary      Create transcription
// @Description  Creates a pending transcription record that a streaming session can attach to
// @Tags         transcriptions
// @Accept       json
// @Produce      json
// @Param        request  body      CreateTranscriptionRequest  true  "Transcription"
// @Success      201      {object}  Transcription
// @Failure      400      {object}  shared.APIError
// @Failure      404      {object}  shared.APIError
// @Router       /transcriptions [post]
func (h *Handler) Create(c echo.Context) error {
	var req CreateTranscriptionRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	if (req.DoctorID != nil && *req.DoctorID <= 0) || (req.PatientID != nil && *req.PatientID <= 0) {
		return shared.BadRequest("invalid_reference", "doctor_id and patient_id must be positive")
	}

	ctx := c.Request().Context()
	if req.PatientID != nil {
		if _, err := h.store.GetPatient(ctx, *req.PatientID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.NotFound("patient_not_found", "patient not found")
			}
			h.logger.Error("failed to load patient", "error", err, "patient_id", *req.PatientID)
			return shared.InternalError("lookup_failed", "failed to load patient")
		}
	}

	t := &Transcription{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Status:    StatusPending,
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		t.Language = &lang
	}

	if err := h.store.CreateTranscription(ctx, t); err != nil {
		h.logger.Error("failed to create transcription", "error", err)
		return shared.InternalError("create_failed", "failed to create transcription")
	}

	return c.JSON(http.StatusCreated, t)
}

// @Summary      Get transcription
// @Tags         transcriptions
// @Produce      json
// @Param        id   path      int  true  "Transcription ID"
// @Success      200  {object}  Transcription
// @Failure      404  {object}  shared.APIError
// @Router       /transcriptions/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return shared.BadRequest("invalid_id", "invalid transcription id")
	}

	t, err := h.store.GetTranscription(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("transcription_not_found", "transcription not found")
		}
		h.logger.Error("failed to get transcription", "error", err, "transcription_id", id)
		return shared.InternalError("lookup_failed", "failed to load transcription")
	}

	return c.JSON(http.StatusOK, t)
}

// AnalysisResponse is the latest analysis with entity counts for the
// transcript it was produced from.
type AnalysisResponse struct {
	*NoteAnalysis
	EntitySummary map[clinical.Category]int `json:"entity_summary"`
}

// @Summary      Get latest analysis
// @Tags         transcriptions
// @Produce      json
// @Param        id   path      int  true  "Transcription ID"
// @Success      200  {object}  AnalysisResponse
// @Failure      404  {object}  shared.APIError
// @Router       /transcriptions/{id}/analysis [get]
func (h *Handler) GetAnalysis(c echo.Context) error {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		return shared.BadRequest("invalid_id", "invalid transcription id")
	}

	ctx := c.Request().Context()
	a, err := h.store.LatestAnalysis(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("analysis_not_found", "analysis not found")
		}
		h.logger.Error("failed to get analysis", "error", err, "transcription_id", id)
		return shared.InternalError("lookup_failed", "failed to load analysis")
	}

	t, err := h.store.GetTranscription(ctx, id)
	if err != nil {
		h.logger.Error("failed to load analysed transcription", "error", err, "transcription_id", id)
		return shared.InternalError("lookup_failed", "failed to load transcription")
	}

	return c.JSON(http.StatusOK, AnalysisResponse{
		NoteAnalysis:  a,
		EntitySummary: h.entities.Summary(t.TranscriptionText),
	})
}

// ParseID parses a positive record id from a path segment.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, shared.ErrInvalidInput
	}
	return id, nil
}
