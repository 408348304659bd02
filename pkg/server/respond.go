package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kotori-note/kabunote/pkg/app"
	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/provider"
	"github.com/kotori-note/kabunote/pkg/quota"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/users"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Window  string `json:"window,omitempty"`
}

type userKey struct{}

func withUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey{}).(*models.User)
	return u
}

// requireUser resolves the X-User-ID header through the user directory.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		u, err := s.app.User(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Message: message, Type: "kabunote_error", Code: code}})
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *quota.RateLimitedError
	switch {
	case errors.As(err, &limited):
		if limited.Window == quota.WindowMinute || limited.Window == quota.WindowMinuteTokens {
			w.Header().Set("Retry-After", "60")
		}
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
			Message: limited.Reason,
			Type:    "rate_limited",
			Code:    http.StatusTooManyRequests,
			Window:  string(limited.Window),
		}})
	case errors.Is(err, users.ErrNotFound):
		writeJSONError(w, http.StatusUnauthorized, "unknown user")
	case errors.Is(err, users.ErrDuplicate):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, users.ErrNoBookmark):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, provider.ErrUnavailable):
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("provider unavailable")
		writeJSONError(w, http.StatusBadGateway, "AI provider unavailable, retry later")
	case errors.Is(err, store.ErrUnavailable):
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("store unavailable")
		writeJSONError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
