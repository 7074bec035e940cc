package jobs

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/de-tools/account-monitor/pkg/models/api"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Runner interface {
	Jobs() []string
	HasJob(name string) bool
	Run(ctx context.Context, name, invocationID string) error
}

type LoginChecker interface {
	CheckLoginObject(ctx context.Context, invocationID, bucket, key string) error
}

type Handler struct {
	runner Runner
	logins LoginChecker
}

func NewHandler(runner Runner, logins LoginChecker) *Handler {
	return &Handler{
		runner: runner,
		logins: logins,
	}
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	response := make([]api.Job, 0)
	for _, name := range h.runner.Jobs() {
		response = append(response, api.Job{Name: name})
	}

	writeJSON(w, logger, http.StatusOK, response)
}

func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	name := chi.URLParam(r, "job")

	if !h.runner.HasJob(name) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	result := api.RunResult{
		Job:          name,
		InvocationID: invocationID(r),
		Status:       api.StatusSucceeded,
	}
	status := http.StatusOK
	if err := h.runner.Run(ctx, name, result.InvocationID); err != nil {
		logger.Error().
			Err(err).
			Str("job", name).
			Msg("job run failed")
		result.Status = api.StatusFailed
		result.Error = err.Error()
		status = http.StatusInternalServerError
	}

	writeJSON(w, logger, status, result)
}

func (h *Handler) CheckLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	var req api.LoginCheck
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bucket == "" || req.Key == "" {
		http.Error(w, "bucket and key are required", http.StatusBadRequest)
		return
	}

	result := api.RunResult{
		Job:          "login-checker",
		InvocationID: invocationID(r),
		Status:       api.StatusSucceeded,
	}
	status := http.StatusOK
	if err := h.logins.CheckLoginObject(ctx, result.InvocationID, req.Bucket, req.Key); err != nil {
		logger.Error().
			Err(err).
			Str("bucket", req.Bucket).
			Str("key", req.Key).
			Msg("login check failed")
		result.Status = api.StatusFailed
		result.Error = err.Error()
		status = http.StatusInternalServerError
	}

	writeJSON(w, logger, status, result)
}

// invocationID prefers a caller-supplied id and falls back to the request id.
func invocationID(r *http.Request) string {
	if id := r.URL.Query().Get("invocation_id"); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}

func writeJSON(w http.ResponseWriter, logger *zerolog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().
			Err(err).
			Msg("failed to encode response")
	}
}
