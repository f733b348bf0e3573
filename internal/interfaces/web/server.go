package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 720
	hourMs              = 3_600_000
)

// Server is the request/response surface around the pipeline: hourly history,
// pair listing, latest ticks and health, plus the /ws subscription endpoint.
type Server struct {
	mux      *http.ServeMux
	store    port.AggregateStore
	cache    port.LatestCache // optional
	registry *domain.Registry
	hub      *Hub
}

func NewServer(store port.AggregateStore, cache port.LatestCache, registry *domain.Registry, hub *Hub) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		store:    store,
		cache:    cache,
		registry: registry,
		hub:      hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/pairs", s.handlePairs)
	s.mux.HandleFunc("GET /api/averages", s.handleAverages)
	s.mux.HandleFunc("GET /api/latest", s.handleLatest)
	s.mux.HandleFunc("GET /ws", s.hub.ServeWs)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ok := s.store.Ping(ctx) == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          ok,
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.PairsWithPrimary())
}

// handleAverages returns committed hourly buckets for one pair, ascending.
// hours defaults to 24 and is clamped to [1, 720].
func (s *Server) handleAverages(w http.ResponseWriter, r *http.Request) {
	pair, ok := parsePair(r.URL.Query().Get("pair"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown pair"})
		return
	}

	hours := defaultHistoryHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			hours = n
		}
	}
	if hours < 1 {
		hours = 1
	}
	if hours > maxHistoryHours {
		hours = maxHistoryHours
	}

	from := domain.HourBucket(time.Now().UnixMilli() - int64(hours)*hourMs)
	buckets, err := s.store.History(r.Context(), pair, from)
	if err != nil {
		log.Warn().Err(err).Str("pair", string(pair)).Msg("history query failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
		return
	}
	if buckets == nil {
		buckets = []domain.HourlyBucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusOK, []domain.NormalizedTick{})
		return
	}
	ticks, err := s.cache.Latest(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("latest cache read failed")
		writeJSON(w, http.StatusOK, []domain.NormalizedTick{})
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

func parsePair(raw string) (domain.PairKey, bool) {
	for _, p := range domain.Pairs {
		if string(p) == raw {
			return p, true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response failed")
	}
}
