package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type explainRequest struct {
	StockCode   string `json:"stock_code"`
	ChartPeriod string `json:"chart_period"`
}

type stockRequest struct {
	StockCode string `json:"stock_code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	database := "ok"
	if err := s.app.Ping(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		database = "unavailable"
		s.log.Warn().Err(err).Msg("health check: store ping failed")
	}
	writeJSON(w, code, map[string]any{
		"status":        status,
		"database":      database,
		"ai_configured": s.app.ProviderConfigured(),
	})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exp, err := s.app.Explain(r.Context(), req.StockCode, req.ChartPeriod, userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleCachedExplanation(w http.ResponseWriter, r *http.Request) {
	exp, err := s.app.CachedExplanation(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "period"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if exp == nil {
		writeJSONError(w, http.StatusNotFound, "no cached explanation found")
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	status, err := s.app.CheckUsage(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleUsageHistory(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "days", 7)
	history, err := s.app.UsageHistory(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": history})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 10)
	writeJSON(w, http.StatusOK, s.app.Search(r.URL.Query().Get("q"), limit))
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Popular(r.Context()))
}

func (s *Server) handleSector(w http.ResponseWriter, r *http.Request) {
	sector := chi.URLParam(r, "sector")
	if decoded, err := url.PathUnescape(sector); err == nil {
		sector = decoded
	}
	writeJSON(w, http.StatusOK, s.app.Sector(r.Context(), sector))
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	series := s.app.PriceSeries(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("period"))
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	ind := s.app.Indicators(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("period"))
	writeJSON(w, http.StatusOK, ind)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.CacheStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.CleanupExpired(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	ok, err := s.app.Invalidate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": ok})
}

func (s *Server) handleAddSearch(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := s.app.AddSearch(r.Context(), userFrom(r.Context()).ID, req.StockCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.app.SearchHistory(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleAddBookmark(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b, err := s.app.AddBookmark(r.Context(), userFrom(r.Context()).ID, req.StockCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Bookmarks(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRemoveBookmark(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RemoveBookmark(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "code")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "bookmark removed"})
}

func intQuery(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
