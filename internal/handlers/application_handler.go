package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// pollIntervalSeconds is the status poll cadence hinted to clients.
const pollIntervalSeconds = 2

// StartApplicationsRequest is the POST /api/applications payload.
type StartApplicationsRequest struct {
	JobURLs      []string `json:"job_urls" validate:"required,min=1,dive,url"`
	TailorResume []bool   `json:"tailor_resume,omitempty"`
}

// ApplicationHandler serves the batch application API.
type ApplicationHandler struct {
	batches  interfaces.BatchService
	limiter  interfaces.RateLimiter
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewApplicationHandler creates the application API handler.
func NewApplicationHandler(batches interfaces.BatchService, limiter interfaces.RateLimiter, logger arbor.ILogger) *ApplicationHandler {
	return &ApplicationHandler{
		batches:  batches,
		limiter:  limiter,
		validate: validator.New(),
		logger:   logger,
	}
}

// StartHandler handles POST /api/applications.
func (h *ApplicationHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	var req StartApplicationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if !identity.Admin {
		decision, err := h.limiter.Check(r.Context(), common.LimitApplicationsPerDay, identity.UserID)
		if err == nil && !decision.Allowed {
			WriteRateLimited(w, decision)
			return
		}
	}

	batch, err := h.batches.StartBatch(r.Context(), identity.UserID, req.JobURLs, req.TailorResume)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !identity.Admin {
		if err := h.limiter.Consume(r.Context(), common.LimitApplicationsPerDay, identity.UserID, len(req.JobURLs)); err != nil {
			h.logger.Warn().Err(err).Str("user_id", identity.UserID).Msg("Application quota not recorded")
		}
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch_id":              batch.ID,
		"job_slots":             batch.Slots,
		"poll_interval_seconds": pollIntervalSeconds,
	})
}

// StatusHandler handles GET /api/applications/{batch_id}.
func (h *ApplicationHandler) StatusHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	batch, err := h.batches.GetBatch(r.Context(), identity.UserID, batchID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "batch not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id":              batch.ID,
		"status":                batch.Status,
		"counts":                batch.Count(),
		"job_slots":             batch.Slots,
		"created_at":            batch.CreatedAt,
		"updated_at":            batch.UpdatedAt,
		"poll_interval_seconds": pollIntervalSeconds,
	})
}

// MarkSubmittedHandler handles POST /api/applications/{batch_id}/jobs/{job_id}/submitted.
func (h *ApplicationHandler) MarkSubmittedHandler(w http.ResponseWriter, r *http.Request, batchID, jobID string) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.batches.MarkSubmitted(r.Context(), identity.UserID, batchID, jobID); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id": batchID,
		"job_id":   jobID,
		"status":   models.SessionCompleted,
	})
}

// CloseHandler handles DELETE /api/applications/{batch_id}.
func (h *ApplicationHandler) CloseHandler(w http.ResponseWriter, r *http.Request, batchID string) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}
	identity, ok := RequireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.batches.CloseBatch(r.Context(), identity.UserID, batchID); err != nil {
		WriteError(w, http.StatusNotFound, "batch not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"batch_id": batchID,
		"status":   string(models.BatchClosed),
	})
}

// validationMessage flattens a validator error into one client-readable
// reason. One reason per 400.
func validationMessage(err error) string {
	verr, ok := err.(validator.ValidationErrors)
	if !ok || len(verr) == 0 {
		return err.Error()
	}
	first := verr[0]
	switch first.Tag() {
	case "required", "min":
		return "job_urls must contain at least one URL"
	case "url":
		return "job_urls contains an invalid URL"
	default:
		return first.Error()
	}
}
