// Package httpserver exposes the live consumer API: the aggregate view,
// refresh triggers and diagnostics for whatever renders the menu surface.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/quotabar/internal/metrics"
	"github.com/tokligence/quotabar/internal/source"
	"github.com/tokligence/quotabar/internal/usage"
)

// Aggregator is the orchestrator surface the HTTP layer consumes.
type Aggregator interface {
	CurrentAggregate() usage.Aggregate
	LastError() error
	LastCycleAt() time.Time
	IsRefreshing() bool
	Eligible(src usage.Source) bool
	RefreshAll(ctx context.Context)
	Refresh(ctx context.Context, src usage.Source)
	Reset(ctx context.Context) error
}

// Resetter clears the publication store alongside the orchestrator reset.
type Resetter interface {
	Reset() error
}

// Server exposes REST endpoints for quotabar consumers.
type Server struct {
	agg       Aggregator
	pubReset  Resetter
	collector *metrics.Collector
	logger    *log.Logger
}

// New creates the consumer API server. pubReset and collector may be nil.
func New(agg Aggregator, pubReset Resetter, collector *metrics.Collector, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[httpserver] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{agg: agg, pubReset: pubReset, collector: collector, logger: logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/usage", s.handleUsage)
		r.Get("/usage/{source}", s.handleSourceUsage)
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefreshAll)
		r.Post("/refresh/{source}", s.handleRefreshSource)
		r.Post("/reset", s.handleReset)
	})
	return r
}

// Source display states. A source with cached data is "ok" even while its
// latest fetch failed; the data's age tells the rest of the story.
const (
	stateOK            = "ok"
	stateNoData        = "no_data"
	stateNotConfigured = "not_configured"
)

type windowView struct {
	Used       float64    `json:"used"`
	Total      float64    `json:"total"`
	Percentage float64    `json:"percentage"`
	Remaining  float64    `json:"remaining"`
	ResetsAt   *time.Time `json:"resets_at,omitempty"`
}

type sourceView struct {
	Source      string                `json:"source"`
	DisplayName string                `json:"display_name"`
	State       string                `json:"state"`
	Windows     map[string]windowView `json:"windows,omitempty"`
	FetchedAt   *time.Time            `json:"fetched_at,omitempty"`
}

func (s *Server) sourceView(src usage.Source, agg usage.Aggregate) sourceView {
	view := sourceView{Source: string(src), DisplayName: src.DisplayName()}
	snap, ok := agg[src]
	switch {
	case ok:
		view.State = stateOK
		view.Windows = make(map[string]windowView, len(snap.Windows))
		for name, w := range snap.Windows {
			view.Windows[name] = windowView{
				Used:       w.Used,
				Total:      w.Total,
				Percentage: w.Percentage(),
				Remaining:  w.Remaining(),
				ResetsAt:   w.ResetsAt,
			}
		}
		fetched := snap.FetchedAt
		view.FetchedAt = &fetched
	case !s.agg.Eligible(src):
		view.State = stateNotConfigured
	default:
		view.State = stateNoData
	}
	return view
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	agg := s.agg.CurrentAggregate()
	views := make([]sourceView, 0, len(usage.AllSources()))
	for _, src := range usage.AllSources() {
		views = append(views, s.sourceView(src, agg))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sources": views})
}

func (s *Server) handleSourceUsage(w http.ResponseWriter, r *http.Request) {
	src, err := usage.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.sourceView(src, s.agg.CurrentAggregate()))
}

type statusResponse struct {
	Refreshing  bool         `json:"refreshing"`
	LastCycleAt *time.Time   `json:"last_cycle_at,omitempty"`
	LastError   *errorDetail `json:"last_error,omitempty"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Refreshing: s.agg.IsRefreshing()}
	if at := s.agg.LastCycleAt(); !at.IsZero() {
		resp.LastCycleAt = &at
	}
	if err := s.agg.LastError(); err != nil {
		detail := errorDetail{Kind: string(source.KindOf(err)), Message: err.Error()}
		var fe *source.FetchError
		if errors.As(err, &fe) {
			detail.Source = string(fe.Source)
		}
		resp.LastError = &detail
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	s.agg.RefreshAll(r.Context())
	s.handleStatus(w, r)
}

func (s *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request) {
	src, err := usage.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.agg.Refresh(r.Context(), src)
	s.respondJSON(w, http.StatusOK, s.sourceView(src, s.agg.CurrentAggregate()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.agg.Reset(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if s.pubReset != nil {
		if err := s.pubReset.Reset(); err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	s.logger.Printf("aggregate and publication store reset by user request")
	s.respondJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		http.Error(w, "metrics disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.collector.GetSnapshot())))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
