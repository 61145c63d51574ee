package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"remindwell/internal/types"
)

// healthCheckTimeout bounds the database probe on the health endpoint.
const healthCheckTimeout = 2 * time.Second

// ProfileDirectory is the profile surface the API writes through. Deleting a
// profile cascades to the user's pending work and reports how many items went
// with it.
type ProfileDirectory interface {
	CreateOrUpdate(ctx context.Context, profile *types.UserProfile) (*types.UserProfile, error)
	Get(ctx context.Context, userID string) (*types.UserProfile, error)
	Delete(ctx context.Context, userID string) (int, error)
}

// WorkSubmitter is the slice of the work queue the API writes through.
type WorkSubmitter interface {
	Upsert(ctx context.Context, item *types.WorkItem) error
}

// Processor triggers one delivery pass on demand.
type Processor interface {
	ProcessNow(ctx context.Context) (types.ProcessSummary, error)
}

// HealthSource reports orchestrator health.
type HealthSource interface {
	GetHealth(ctx context.Context) types.HealthReport
}

// DBProbe checks database reachability for the health endpoint.
// *pgxpool.Pool satisfies it.
type DBProbe interface {
	Ping(ctx context.Context) error
}

// Handler carries the handler dependencies behind narrow interfaces.
type Handler struct {
	profiles  ProfileDirectory
	evaluator types.Evaluation
	work      WorkSubmitter
	processor Processor
	health    HealthSource
	dbProbe   DBProbe
	clock     types.Clock
	logger    *slog.Logger
}

// NewHandler creates a Handler. Clock and logger fall back to defaults when
// nil; everything else is required by the routes that use it.
func NewHandler(
	profiles ProfileDirectory,
	evaluator types.Evaluation,
	work WorkSubmitter,
	processor Processor,
	health HealthSource,
	dbProbe DBProbe,
	clock types.Clock,
	logger *slog.Logger,
) *Handler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		profiles:  profiles,
		evaluator: evaluator,
		work:      work,
		processor: processor,
		health:    health,
		dbProbe:   dbProbe,
		clock:     clock,
		logger:    logger,
	}
}

// UpsertProfile handles PUT /v1/profiles/{userID}. The path user ID is
// authoritative; a mismatched body ID is rejected.
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var profile types.UserProfile
	if err := DecodeJSON(w, r, &profile); err != nil {
		Error(w, r, err)
		return
	}

	if profile.UserID != "" && profile.UserID != userID {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"body user_id does not match path", nil))
		return
	}
	profile.UserID = userID

	stored, err := h.profiles.CreateOrUpdate(r.Context(), &profile)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: stored})
}

// GetProfile handles GET /v1/profiles/{userID}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	profile, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if profile == nil {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil))
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: profile})
}

// DeleteProfile handles DELETE /v1/profiles/{userID}. Pending work for the
// user goes with the profile.
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	removed, err := h.profiles.Delete(r.Context(), userID)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
		"user_id":            userID,
		"work_items_removed": removed,
	}})
}

// EvaluateRequest is the body for POST /v1/evaluate. A zero instant means
// "now".
type EvaluateRequest struct {
	UserID   string             `json:"user_id"`
	Instant  time.Time          `json:"instant,omitempty"`
	Priority types.WorkPriority `json:"priority,omitempty"`
}

// Evaluate handles POST /v1/evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if req.UserID == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "user_id is required", nil))
		return
	}

	instant := req.Instant
	if instant.IsZero() {
		instant = h.clock.Now()
	}
	priority := req.Priority
	if priority == "" {
		priority = types.WorkPriorityNormal
	}
	switch priority {
	case types.WorkPriorityLow, types.WorkPriorityNormal, types.WorkPriorityHigh, types.WorkPriorityCritical:
	default:
		Error(w, r, types.NewAppError(types.ErrCodeValidationWorkItem,
			fmt.Sprintf("unknown work priority %q", priority), nil))
		return
	}

	result, err := h.evaluator.Evaluate(r.Context(), req.UserID, instant, priority)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: result})
}

// SubmitWork handles POST /v1/work. An omitted ID is generated; resubmitting
// the same ID replaces the item.
func (h *Handler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	var item types.WorkItem
	if err := DecodeJSON(w, r, &item); err != nil {
		Error(w, r, err)
		return
	}

	created := false
	if item.ID == "" {
		item.ID = fmt.Sprintf("itm_%s", uuid.New().String())
		created = true
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = 5
	}

	if err := item.Validate(); err != nil {
		Error(w, r, err)
		return
	}

	if err := h.work.Upsert(r.Context(), &item); err != nil {
		Error(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	JSON(w, r, status, APIResponse{Data: item})
}

// Process handles POST /v1/work/process: one manual delivery pass.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	summary, err := h.processor.ProcessNow(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summary})
}

// healthResponse is the body for GET /health.
type healthResponse struct {
	Status   string             `json:"status"`
	Database string             `json:"database"`
	Report   types.HealthReport `json:"report"`
}

// Health handles GET /health. It aggregates orchestrator health with a
// short database probe; a failing probe degrades the status to 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:   "healthy",
		Database: "ok",
		Report:   h.health.GetHealth(ctx),
	}

	status := http.StatusOK
	if h.dbProbe != nil {
		if err := h.dbProbe.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health probe failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	JSON(w, r, status, resp)
}
