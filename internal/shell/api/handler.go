// Package api provides HTTP handlers for the Deckhand management API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsline/deckhand/internal/core/dispatch"
	"github.com/opsline/deckhand/internal/core/domain"
	"github.com/opsline/deckhand/internal/core/plan"
	"github.com/opsline/deckhand/internal/core/trigger"
	"github.com/opsline/deckhand/internal/core/verify"
	apimw "github.com/opsline/deckhand/internal/shell/api/middleware"
	"github.com/opsline/deckhand/internal/shell/dockerx"
	"github.com/opsline/deckhand/internal/shell/executor"
	"github.com/opsline/deckhand/internal/shell/store"
	"github.com/opsline/deckhand/internal/shell/workers"
)

// =============================================================================
// Handler
// =============================================================================

// Handler serves the webhook intake, the management API and the status page.
type Handler struct {
	store      store.Store
	dispatcher *workers.Dispatcher
	inspector  *dockerx.Inspector
	execConfig executor.Config
	hookSecret []byte
	apiToken   string
	logger     *slog.Logger
	spec       http.HandlerFunc

	// newRunner is swapped in tests to avoid dialing real hosts.
	newRunner func(domain.Target, executor.Config) (executor.Runner, error)
}

// Config wires the handler's collaborators.
type Config struct {
	Store      store.Store
	Dispatcher *workers.Dispatcher

	// Inspector observes containers on the local Docker daemon. Optional;
	// when nil, container state for local targets comes from compose ps
	// like everywhere else.
	Inspector *dockerx.Inspector

	// Executor configures the runners used for on-demand container checks.
	Executor executor.Config

	// HookSecret verifies push webhook signatures. Empty disables the hook.
	HookSecret []byte

	// APIToken guards /api/v1. Empty leaves the API open.
	APIToken string

	Logger *slog.Logger
}

// NewHandler creates an API handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		inspector:  cfg.Inspector,
		execConfig: cfg.Executor,
		hookSecret: cfg.HookSecret,
		apiToken:   cfg.APIToken,
		logger:     logger.With("component", "api"),
		spec:       newSpec().Handler(),
		newRunner:  executor.New,
	}
}

// Routes builds the router with all middleware and routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(h.requestIDHeader)

	r.Get("/", h.handleStatusPage)
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.spec)

	hook := apimw.NewWebhookVerifier(apimw.WebhookConfig{
		Secret: h.hookSecret,
		Logger: h.logger,
	})
	r.With(hook.Handler).Post("/hooks/push", h.handlePushHook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.BearerAuth(h.apiToken, h.logger))

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", h.handleListTargets)
			r.Get("/{name}", h.handleGetTarget)
			r.Get("/{name}/containers", h.handleTargetContainers)
			r.Post("/{name}/deploys", h.handleTriggerDeploy)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
		})

		r.Get("/queue", h.handleQueue)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// requestLogger emits one debug line per request with status and latency.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requestIDHeader echoes the request ID so clients can correlate with logs.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Probes
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if _, err := h.store.ListRuns(r.Context(), store.ListOptions{Limit: 1}); err != nil {
		h.logger.Warn("readiness check: database unavailable", "error", err)
		checks["database"] = "failed"
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if h.inspector != nil {
		if err := h.inspector.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check: docker unavailable", "error", err)
			checks["docker"] = "failed"
			ready = false
		} else {
			checks["docker"] = "ok"
		}
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Webhook Intake
// =============================================================================

// handlePushHook turns a verified push event into deploy runs. The signature
// check happened in middleware; this handler decides which targets care.
func (h *Handler) handlePushHook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "could not read request body", "read_error")
		return
	}

	event, err := trigger.ParsePushEvent(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid push payload: "+err.Error(), "invalid_payload")
		return
	}

	resp := HookAcceptedResponse{
		Ref:    event.Ref,
		Commit: event.CommitSHA(),
	}

	for _, t := range h.dispatcher.Targets() {
		ok, reason := trigger.ShouldDeploy(event, t)
		if !ok {
			resp.Ignored = append(resp.Ignored, t.Name+": "+reason)
			continue
		}

		run, decision, err := h.dispatcher.Submit(r.Context(), t.Name, domain.TriggerPush, event.Ref, event.CommitSHA())
		if err != nil {
			why := decision.Reason
			if why == "" {
				why = err.Error()
			}
			h.logger.Warn("push dispatch refused", "target", t.Name, "reason", why)
			resp.Rejected = append(resp.Rejected, t.Name+": "+why)
			continue
		}

		resp.Deploys = append(resp.Deploys, DeployAcceptedResponse{
			RunID:  run.ID,
			Target: t.Name,
			Action: string(decision.Action),
			Reason: decision.Reason,
			Status: string(run.Status),
		})
	}

	h.writeJSON(w, http.StatusAccepted, resp)
}

// =============================================================================
// Targets
// =============================================================================

func (h *Handler) handleListTargets(w http.ResponseWriter, r *http.Request) {
	lanes := laneIndex(h.dispatcher.Status())
	targets := h.dispatcher.Targets()

	resp := ListTargetsResponse{
		Targets: make([]TargetResponse, 0, len(targets)),
		Total:   len(targets),
	}
	for _, t := range targets {
		resp.Targets = append(resp.Targets, h.targetView(r.Context(), t, lanes))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := h.dispatcher.Target(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "target not found", "target_not_found")
		return
	}

	h.writeJSON(w, http.StatusOK, h.targetView(r.Context(), t, laneIndex(h.dispatcher.Status())))
}

// handleTargetContainers reports live container state for one target. Local
// targets are read straight from the Docker daemon when an inspector is
// wired; everything else runs the same compose ps command a deploy's verify
// step runs.
func (h *Handler) handleTargetContainers(w http.ResponseWriter, r *http.Request) {
	t, err := h.dispatcher.Target(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "target not found", "target_not_found")
		return
	}

	var (
		states []verify.ContainerState
		source string
	)
	if t.Executor == domain.ExecutorLocal && h.inspector != nil {
		source = "docker"
		states, err = h.inspector.ProjectContainers(r.Context(), t.ProjectName())
	} else {
		source = "compose-ps"
		states, err = h.composePS(r.Context(), t)
	}
	if err != nil {
		h.logger.Error("could not observe containers", "target", t.Name, "source", source, "error", err)
		h.writeError(w, http.StatusBadGateway, "could not observe containers: "+err.Error(), "observe_failed")
		return
	}

	h.writeJSON(w, http.StatusOK, ContainersResponse{
		Target:     t.Name,
		Source:     source,
		Containers: containersToResponse(states),
	})
}

func (h *Handler) handleTriggerDeploy(w http.ResponseWriter, r *http.Request) {
	t, err := h.dispatcher.Target(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, "target not found", "target_not_found")
		return
	}

	var req TriggerDeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON in request body", "validation_error")
		return
	}

	ref := req.Ref
	switch {
	case ref == "":
		ref = "refs/heads/" + t.Branch
	case !strings.HasPrefix(ref, "refs/"):
		// Accept a bare branch name.
		ref = "refs/heads/" + ref
	}

	run, decision, err := h.dispatcher.Submit(r.Context(), t.Name, domain.TriggerManual, ref, "")
	if err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			h.writeError(w, http.StatusTooManyRequests, decision.Reason, "queue_full")
			return
		}
		h.logger.Error("could not submit deploy", "target", t.Name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not submit deploy", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, DeployAcceptedResponse{
		RunID:  run.ID,
		Target: t.Name,
		Action: string(decision.Action),
		Reason: decision.Reason,
		Status: string(run.Status),
	})
}

// targetView enriches a configured target with lane state and its most
// recent run.
func (h *Handler) targetView(ctx context.Context, t domain.Target, lanes map[string]workers.LaneStatus) TargetResponse {
	resp := targetToResponse(t)

	if lane, ok := lanes[t.Name]; ok {
		resp.ActiveRunID = lane.ActiveRunID
		resp.QueuedRunIDs = lane.QueuedRunIDs
	}

	latest, err := h.store.LatestRunByTarget(ctx, t.Name)
	switch {
	case err == nil:
		summary := runToSummary(latest)
		resp.LastRun = &summary
	case !isNotFound(err):
		h.logger.Warn("could not load latest run", "target", t.Name, "error", err)
	}

	return resp
}

// composePS runs the compose ps command on the target and parses its output.
func (h *Handler) composePS(ctx context.Context, t domain.Target) ([]verify.ContainerState, error) {
	runner, err := h.newRunner(t, h.execConfig)
	if err != nil {
		return nil, err
	}
	defer runner.Close()

	res, err := runner.Run(ctx, psCommand(t))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("compose ps exited %d: %s", res.ExitCode, strings.TrimSpace(res.Combined()))
	}

	return verify.ParsePS(res.Stdout)
}

// psCommand is the same command a deploy's verify step runs.
func psCommand(t domain.Target) string {
	for _, s := range plan.Steps(t) {
		if s.Kind == plan.StepVerify {
			return s.Command
		}
	}
	return ""
}

// =============================================================================
// Runs
// =============================================================================

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := store.DefaultListOptions()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	if v := q.Get("status"); v != "" {
		status := domain.RunStatus(v)
		if !status.IsValid() {
			h.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(v), "validation_error")
			return
		}
		opts.Status = status
	}
	opts = opts.Normalize()

	var (
		runs []domain.Run
		err  error
	)
	if target := q.Get("target"); target != "" {
		runs, err = h.store.ListRunsByTarget(r.Context(), target, opts)
	} else {
		runs, err = h.store.ListRuns(r.Context(), opts)
	}
	if err != nil {
		h.logger.Error("could not list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not list runs", "internal_error")
		return
	}

	resp := ListRunsResponse{
		Runs:   make([]RunSummary, 0, len(runs)),
		Total:  len(runs),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range runs {
		resp.Runs = append(resp.Runs, runToSummary(&runs[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("could not load run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "could not load run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run))
}

// =============================================================================
// Queue
// =============================================================================

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, QueueResponse{Lanes: h.dispatcher.Status()})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("could not encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func laneIndex(lanes []workers.LaneStatus) map[string]workers.LaneStatus {
	index := make(map[string]workers.LaneStatus, len(lanes))
	for _, lane := range lanes {
		index[lane.Target] = lane
	}
	return index
}

// isNotFound reports whether err is a store not-found error.
func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return false
}
