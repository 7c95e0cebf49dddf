// Package handler serves the HTTP status and trigger API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/presenters"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/run"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	nextRunsPreview = 5
)

// Service is what the API needs from the scheduler engine.
type Service interface {
	ListSchedules(ctx context.Context, activeOnly bool) ([]repository.Schedule, error)
	GetSchedule(ctx context.Context, name string) (repository.Schedule, error)
	SaveSchedule(ctx context.Context, s repository.Schedule) (repository.Schedule, error)
	NextRuns(s repository.Schedule, n int) ([]time.Time, error)
	ArgumentSchema(ctx context.Context, name string) ([]command.ArgumentSpec, error)
	RunNow(ctx context.Context, name string, override command.Arguments) (run.Record, error)
	ListRuns(ctx context.Context, filter repository.RunFilter) ([]run.Record, error)
	GetRun(ctx context.Context, id string) (run.Record, error)
	GetStatus(ctx context.Context, id string) (run.StatusPayload, error)
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, log: logger}
}

// Router mounts every route under /api. CORS is enabled when
// allowedOrigins is non-empty.
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/schedules", h.ListSchedules)
		r.Route("/schedules/{name}", func(r chi.Router) {
			r.Get("/", h.GetSchedule)
			r.Put("/", h.PutSchedule)
			r.Post("/run", h.RunNow)
			r.Get("/arguments", h.GetArguments)
		})
		r.Get("/runs", h.ListRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Get("/status", h.GetStatus)
		})
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("requestID", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	schedules, err := h.svc.ListSchedules(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presenters.BuildListSchedulesResponse(schedules))
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.GetSchedule(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.scheduleResponse(s))
}

func (h *Handler) scheduleResponse(s repository.Schedule) presenters.ScheduleResponse {
	next, err := h.svc.NextRuns(s, nextRunsPreview)
	if err != nil {
		h.log.Warn("failed to preview next runs", "command", s.CommandName, "error", err)
	}
	return presenters.BuildScheduleResponse(s, next)
}

// scheduleRequest is a partial schedule. Omitted fields keep their
// current value, or the default for a new schedule.
type scheduleRequest struct {
	AppName   *string            `json:"app_name"`
	Minute    *string            `json:"minute"`
	Hour      *string            `json:"hour"`
	Day       *string            `json:"day"`
	Active    *bool              `json:"active"`
	Arguments *command.Arguments `json:"arguments"`
}

func (req scheduleRequest) applyTo(s repository.Schedule) repository.Schedule {
	if req.AppName != nil {
		s.AppName = *req.AppName
	}
	if req.Minute != nil {
		s.Minute = *req.Minute
	}
	if req.Hour != nil {
		s.Hour = *req.Hour
	}
	if req.Day != nil {
		s.Day = *req.Day
	}
	if req.Active != nil {
		s.Active = *req.Active
	}
	if req.Arguments != nil {
		s.Arguments = *req.Arguments
	}
	return s
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &UserError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func (h *Handler) PutSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	current, err := h.svc.GetSchedule(r.Context(), name)
	status := http.StatusOK
	if err != nil {
		if statusFor(err) != http.StatusNotFound {
			h.writeError(w, r, err)
			return
		}
		current = repository.NewSchedule(name, "")
		status = http.StatusCreated
	}

	saved, err := h.svc.SaveSchedule(r.Context(), req.applyTo(current))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, h.scheduleResponse(saved))
}

func (h *Handler) GetArguments(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	specs, err := h.svc.ArgumentSchema(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if specs == nil {
		specs = []command.ArgumentSpec{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"command_name": name, "arguments": specs})
}

type runNowRequest struct {
	Arguments *command.Arguments `json:"arguments"`
}

type runNowResponse struct {
	RunID     string `json:"run_id"`
	StatusURL string `json:"status_url"`
}

func (h *Handler) RunNow(w http.ResponseWriter, r *http.Request) {
	var req runNowRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var override command.Arguments
	if req.Arguments != nil {
		override = *req.Arguments
		if override == nil {
			override = command.Arguments{}
		}
	}

	rec, err := h.svc.RunNow(r.Context(), chi.URLParam(r, "name"), override)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runNowResponse{
		RunID:     rec.ID,
		StatusURL: "/api/runs/" + rec.ID + "/status",
	})
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.RunFilter{
		CommandName: q.Get("command"),
		Limit:       defaultRunLimit,
	}
	if s := q.Get("status"); s != "" {
		st, err := run.ParseStatus(s)
		if err != nil {
			h.writeError(w, r, &UserError{Message: err.Error()})
			return
		}
		filter.Status = st
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			h.writeError(w, r, &UserError{Message: "limit must be a positive integer"})
			return
		}
		filter.Limit = min(n, maxRunLimit)
	}

	runs, err := h.svc.ListRuns(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presenters.BuildListRunsResponse(runs))
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presenters.BuildRunResponse(rec))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	payload, err := h.svc.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
