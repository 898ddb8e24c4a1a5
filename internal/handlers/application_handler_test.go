package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

type fakeBatchService struct {
	batches   map[string]*models.Batch
	submitErr error
}

func (f *fakeBatchService) StartBatch(ctx context.Context, userID string, urls []string, tailor []bool) (*models.Batch, error) {
	if len(urls) > 10 {
		return nil, fmt.Errorf("batch of %d urls exceeds the limit of 10", len(urls))
	}
	batch := &models.Batch{
		ID:     "batch_1",
		UserID: userID,
		Status: models.BatchRunning,
	}
	for i, u := range urls {
		batch.Slots = append(batch.Slots, models.JobSlot{
			JobID:  fmt.Sprintf("job_%d", i),
			JobURL: u,
			Status: models.SessionQueued,
		})
	}
	if f.batches == nil {
		f.batches = make(map[string]*models.Batch)
	}
	f.batches[batch.ID] = batch
	return batch, nil
}

func (f *fakeBatchService) GetBatch(ctx context.Context, userID, batchID string) (*models.Batch, error) {
	batch, ok := f.batches[batchID]
	if !ok || batch.UserID != userID {
		return nil, errors.New("not found")
	}
	return batch, nil
}

func (f *fakeBatchService) MarkSubmitted(ctx context.Context, userID, batchID, jobID string) error {
	return f.submitErr
}

func (f *fakeBatchService) CloseBatch(ctx context.Context, userID, batchID string) error {
	batch, ok := f.batches[batchID]
	if !ok || batch.UserID != userID {
		return errors.New("not found")
	}
	batch.Status = models.BatchClosed
	return nil
}

type fakeLimiter struct {
	decision interfaces.Decision
	consumed int
}

func (f *fakeLimiter) Check(ctx context.Context, limitType, identifier string) (interfaces.Decision, error) {
	return f.decision, nil
}

func (f *fakeLimiter) Consume(ctx context.Context, limitType, identifier string, n int) error {
	f.consumed += n
	return nil
}

func (f *fakeLimiter) IsAdmin(identifier string) bool { return false }

func (f *fakeLimiter) PaceLLM(ctx context.Context) error { return nil }

func allowingLimiter() *fakeLimiter {
	return &fakeLimiter{decision: interfaces.Decision{Allowed: true, Limit: 50, Remaining: 49}}
}

func authedRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	identity := models.Identity{UserID: "u1", Email: "u1@example.com"}
	return r.WithContext(WithIdentity(r.Context(), identity))
}

func TestStartApplicationsAccepted(t *testing.T) {
	svc := &fakeBatchService{}
	limiter := allowingLimiter()
	h := NewApplicationHandler(svc, limiter, common.GetLogger())

	body := `{"job_urls": ["https://jobs.example.com/1", "https://jobs.example.com/2"]}`
	w := httptest.NewRecorder()
	h.StartHandler(w, authedRequest("POST", "/api/applications", body))

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "batch_1", resp["batch_id"])
	assert.Len(t, resp["job_slots"], 2)
	assert.EqualValues(t, 2, resp["poll_interval_seconds"])
	assert.Equal(t, 2, limiter.consumed)
}

func TestStartApplicationsRequiresIdentity(t *testing.T) {
	h := NewApplicationHandler(&fakeBatchService{}, allowingLimiter(), common.GetLogger())

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/applications", strings.NewReader(`{"job_urls":["https://x.example.com"]}`))
	h.StartHandler(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartApplicationsValidation(t *testing.T) {
	h := NewApplicationHandler(&fakeBatchService{}, allowingLimiter(), common.GetLogger())

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"job_urls": [`, "invalid JSON"},
		{"empty list", `{"job_urls": []}`, "at least one URL"},
		{"bad url", `{"job_urls": ["not a url"]}`, "invalid URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.StartHandler(w, authedRequest("POST", "/api/applications", tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestStartApplicationsRateLimited(t *testing.T) {
	limiter := &fakeLimiter{decision: interfaces.Decision{
		Allowed: false,
		Limit:   50,
		ResetAt: time.Now().Add(10 * time.Minute),
	}}
	h := NewApplicationHandler(&fakeBatchService{}, limiter, common.GetLogger())

	w := httptest.NewRecorder()
	h.StartHandler(w, authedRequest("POST", "/api/applications", `{"job_urls":["https://jobs.example.com/1"]}`))

	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 50, resp["limit"])
	assert.Contains(t, resp, "retry_after_seconds")
	assert.Contains(t, resp, "reset_at")
	assert.Zero(t, limiter.consumed)
}

func TestStatusHandlerReturnsCounts(t *testing.T) {
	svc := &fakeBatchService{batches: map[string]*models.Batch{
		"batch_1": {
			ID:     "batch_1",
			UserID: "u1",
			Status: models.BatchRunning,
			Slots: []models.JobSlot{
				{JobID: "job_0", Status: models.SessionSubmitted},
				{JobID: "job_1", Status: models.SessionReadyForReview, ViewerURL: "ws://localhost:6090/"},
			},
		},
	}}
	h := NewApplicationHandler(svc, allowingLimiter(), common.GetLogger())

	w := httptest.NewRecorder()
	h.StatusHandler(w, authedRequest("GET", "/api/applications/batch_1", ""), "batch_1")

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Counts models.Counts `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Counts.Total)
	assert.Equal(t, 1, resp.Counts.Completed)
	assert.Equal(t, 1, resp.Counts.ReadyForReview)
}

func TestStatusHandlerHidesForeignBatch(t *testing.T) {
	svc := &fakeBatchService{batches: map[string]*models.Batch{
		"batch_1": {ID: "batch_1", UserID: "someone-else"},
	}}
	h := NewApplicationHandler(svc, allowingLimiter(), common.GetLogger())

	w := httptest.NewRecorder()
	h.StatusHandler(w, authedRequest("GET", "/api/applications/batch_1", ""), "batch_1")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkSubmittedConflict(t *testing.T) {
	svc := &fakeBatchService{submitErr: errors.New("job job_0 is submitted, not ready_for_review")}
	h := NewApplicationHandler(svc, allowingLimiter(), common.GetLogger())

	w := httptest.NewRecorder()
	h.MarkSubmittedHandler(w, authedRequest("POST", "/api/applications/batch_1/jobs/job_0/submitted", ""), "batch_1", "job_0")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCloseHandler(t *testing.T) {
	svc := &fakeBatchService{batches: map[string]*models.Batch{
		"batch_1": {ID: "batch_1", UserID: "u1", Status: models.BatchRunning},
	}}
	h := NewApplicationHandler(svc, allowingLimiter(), common.GetLogger())

	w := httptest.NewRecorder()
	h.CloseHandler(w, authedRequest("DELETE", "/api/applications/batch_1", ""), "batch_1")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BatchClosed, svc.batches["batch_1"].Status)
}

func TestIdentityFromHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, ok := IdentityFromHeaders(r)
	assert.False(t, ok)

	r.Header.Set(HeaderUser, "u1")
	r.Header.Set(HeaderEmail, "u1@example.com")
	r.Header.Set(HeaderAdmin, "true")
	id, ok := IdentityFromHeaders(r)
	require.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.Admin)
}
