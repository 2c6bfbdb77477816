package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"spawnwatch/internal/config"
	"spawnwatch/internal/history"
	"spawnwatch/internal/queue"
	"spawnwatch/internal/rules"
	"spawnwatch/internal/stats"
	"spawnwatch/internal/subscription"
)

type EngineControl interface {
	Reset()
	Started() time.Time
}

type RuleControl interface {
	Current() *rules.RuleSet
	Reload() error
	Path() string
}

type QueueStats interface {
	Stats() queue.Stats
}

type Deps struct {
	Config        *config.Manager
	Rules         RuleControl
	Engine        EngineControl
	Queue         QueueStats
	Stats         *stats.Store
	History       *history.Store
	Subscriptions *subscription.Manager
}

type Server struct {
	deps    Deps
	logger  *slog.Logger
	version string
	srv     *http.Server
}

func New(addr string, deps Deps, logger *slog.Logger, version string) *Server {
	s := &Server{deps: deps, logger: logger, version: version}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.logger != nil {
		r.Use(newStructuredLogger(s.logger))
	}
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/stats", s.handleStats)
	r.Get("/deliveries", s.handleDeliveries)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reload", s.handleReload)
		r.Post("/reset", s.handleReset)
	})
	if s.deps.Subscriptions != nil {
		r.Route("/subscribers/{id}", s.subscriberRoutes)
	}
	return r
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}
	if s.logger != nil {
		s.logger.Info("api listening", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

type statusResponse struct {
	Status        string       `json:"status"`
	Time          string       `json:"time"`
	Version       string       `json:"version"`
	StartedAt     string       `json:"started_at,omitempty"`
	ConfigPath    string       `json:"config_path,omitempty"`
	Rules         rulesStatus  `json:"rules"`
	Queue         queue.Stats  `json:"queue"`
	Ingest        ingestStatus `json:"ingest"`
	Subscriptions int          `json:"subscriptions"`
}

type rulesStatus struct {
	Path      string `json:"path"`
	Version   uint64 `json:"version"`
	LoadedAt  string `json:"loaded_at,omitempty"`
	Rules     int    `json:"rules"`
	Geofences int    `json:"geofences"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: s.version,
	}
	if s.deps.Engine != nil {
		resp.StartedAt = s.deps.Engine.Started().Format(time.RFC3339Nano)
	}
	if s.deps.Config != nil {
		cfg := s.deps.Config.Get()
		resp.ConfigPath = s.deps.Config.Path()
		resp.Ingest = ingestStatus{REST: cfg.Ingest.REST.Enabled, Kafka: cfg.Ingest.Kafka.Enabled}
	}
	if s.deps.Rules != nil {
		rs := s.deps.Rules.Current()
		resp.Rules = rulesStatus{
			Path:      s.deps.Rules.Path(),
			Version:   rs.Version,
			Rules:     len(rs.Rules),
			Geofences: len(rs.Geofences),
		}
		if !rs.LoadedAt.IsZero() {
			resp.Rules.LoadedAt = rs.LoadedAt.Format(time.RFC3339Nano)
		}
	}
	if s.deps.Queue != nil {
		resp.Queue = s.deps.Queue.Stats()
	}
	if s.deps.Subscriptions != nil {
		resp.Subscriptions = len(s.deps.Subscriptions.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	top := 0
	if s.deps.Config != nil {
		top = s.deps.Config.Get().Stats.TopN
	}
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "top must be a number")
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot(top))
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []history.Record
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		list = s.deps.History.Since(ts)
	case q.Get("recipient") != "":
		list = s.deps.History.ForRecipient(q.Get("recipient"), limit)
	default:
		list = s.deps.History.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deliveries": list,
		"count":      len(list),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Rules == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := s.deps.Rules.Reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.deps.Rules.Current().Version,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Engine != nil {
		s.deps.Engine.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Debug("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
