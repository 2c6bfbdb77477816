package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"spawnwatch/internal/model"
)

const defaultMaxBody = 2 << 20

// RejectFunc is told about every envelope that failed to parse.
type RejectFunc func(kind model.Kind, err error)

type RESTHandler struct {
	out      chan<- model.Event
	maxBody  int64
	onReject RejectFunc
	logger   *slog.Logger
}

func NewRESTHandler(out chan<- model.Event, maxBody int64, onReject RejectFunc, logger *slog.Logger) *RESTHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &RESTHandler{out: out, maxBody: maxBody, onReject: onReject, logger: logger}
}

func (h *RESTHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/events", h.handleEvents)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
	Failed   int `json:"failed"`
	Dropped  int `json:"dropped"`
}

func (h *RESTHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	envelopes, err := DecodeEnvelopes(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var resp ingestResponse
	for _, env := range envelopes {
		ev, err := Parse(env)
		if err != nil {
			resp.Failed++
			h.reject(env.Type, err)
			continue
		}
		if !SendNonBlocking(r.Context(), h.out, ev, h.logger) {
			resp.Dropped++
			continue
		}
		resp.Accepted++
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *RESTHandler) reject(webhookType string, err error) {
	if h.logger != nil {
		h.logger.Warn("rest webhook rejected", "type", webhookType, "err", err)
	}
	if h.onReject != nil {
		h.onReject(KindOf(webhookType), err)
	}
}

// Serve runs the ingest listener until ctx is done.
func (h *RESTHandler) Serve(ctx context.Context, addr string) error {
	return serveHTTP(ctx, addr, h.Routes(), h.logger)
}
