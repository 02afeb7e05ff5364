// Package httpapi exposes the engine over HTTP: read-only snapshot and bar
// endpoints, session control, a WebSocket feed of engine events, and
// Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yohannes916/mismartera-sub002/internal/domain"
	"github.com/yohannes916/mismartera-sub002/internal/event"
	"github.com/yohannes916/mismartera-sub002/internal/interval"
	"github.com/yohannes916/mismartera-sub002/internal/session"
	"github.com/yohannes916/mismartera-sub002/internal/store"
)

// Controller is the slice of the coordinator the API drives. Accepting the
// interface keeps the server testable without a full engine.
type Controller interface {
	AddSymbol(symbol string, addedBy domain.AddedBy) error
	RemoveSymbol(symbol string) error
	QueueDepth() int
	StreamPaused() bool
}

// Server serves the engine API.
type Server struct {
	data    *session.Data
	ctrl    Controller
	hub     *Hub
	journal *store.SQLiteJournal
	log     *slog.Logger
}

// NewServer creates the API server. bus and journal may be nil; the
// corresponding endpoints then report unavailable.
func NewServer(data *session.Data, ctrl Controller, bus *event.Bus, journal *store.SQLiteJournal, log *slog.Logger) *Server {
	s := &Server{
		data:    data,
		ctrl:    ctrl,
		journal: journal,
		log:     log,
	}
	if bus != nil {
		s.hub = NewHub(bus, log)
		go s.hub.Run()
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/snapshot/{symbol}", s.handleSymbolSnapshot)
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("PUT /api/symbols/{symbol}", s.handleAddSymbol)
	mux.HandleFunc("DELETE /api/symbols/{symbol}", s.handleRemoveSymbol)
	mux.HandleFunc("GET /api/bars/{symbol}/{interval}", s.handleBars)
	mux.HandleFunc("GET /api/quality/{symbol}/{interval}", s.handleQuality)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/journal/events/{run_id}", s.handleJournalEvents)
	mux.HandleFunc("GET /api/journal/quality/{run_id}/{date}", s.handleJournalQuality)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	date := ""
	if d := s.data.SessionDate(); !d.IsZero() {
		date = d.Format("2006-01-02")
	}
	resp := StatusResponse{
		SessionActive: s.data.SessionActive(),
		SessionDate:   date,
		Symbols:       len(s.data.ActiveSymbols()),
	}
	if s.ctrl != nil {
		resp.QueueDepth = s.ctrl.QueueDepth()
		resp.StreamPaused = s.ctrl.StreamPaused()
	}
	writeJSON(w, resp)
}

// handleSnapshot returns the full session projection. External reads honour
// session gating: bars are empty while the session is deactivated.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.data.Snapshot(false))
}

func (s *Server) handleSymbolSnapshot(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	snap := s.data.Snapshot(false)
	sym, ok := snap.Symbols[symbol]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("symbol %s not in session", symbol))
		return
	}
	writeJSON(w, sym)
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := s.data.ActiveSymbols()
	sort.Strings(symbols)
	writeJSON(w, SymbolsResponse{Symbols: symbols})
}

func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "session control not available")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.ctrl.AddSymbol(symbol, domain.AddedByAdhoc); err != nil {
		if errors.Is(err, domain.ErrDuplicateSymbol) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	if s.ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "session control not available")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	if err := s.ctrl.RemoveSymbol(symbol); err != nil {
		if errors.Is(err, domain.ErrSymbolNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	iv, err := interval.Parse(r.PathValue("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	bars, err := s.data.Bars(symbol, iv, since, limit, false)
	if err != nil {
		if errors.Is(err, domain.ErrSymbolNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	writeJSON(w, BarsResponse{Symbol: symbol, Interval: iv.String(), Bars: bars})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	iv, err := interval.Parse(r.PathValue("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quality, err := s.data.Quality(symbol, iv)
	if err != nil {
		if errors.Is(err, domain.ErrSymbolNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	gaps, err := s.data.Gaps(symbol, iv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if gaps == nil {
		gaps = []domain.GapInfo{}
	}
	writeJSON(w, QualityResponse{Symbol: symbol, Interval: iv.String(), Quality: quality, Gaps: gaps})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed not available")
		return
	}
	s.hub.HandleWebSocket(w, r)
}

func (s *Server) handleJournalEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not available")
		return
	}
	limit := 1000
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	rows, err := s.journal.ListEvents(r.Context(), r.PathValue("run_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []store.EventRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleJournalQuality(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not available")
		return
	}
	rows, err := s.journal.QualitySummary(r.Context(), r.PathValue("run_id"), r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []store.QualityRow{}
	}
	writeJSON(w, rows)
}
