package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"filedeck/internal/apperr"
	"filedeck/internal/auth"
	"filedeck/internal/fsutil"
)

type errorBody struct {
	Error string `json:"error"`
}

type internalBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.BadRequest:
		return http.StatusBadRequest
	case apperr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place where error kinds become status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if kind == apperr.Internal {
		s.log.Error("request failed",
			slog.String("request_id", requestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("err", err),
		)
		writeJSONStatus(w, status, internalBody{Error: "Internal server error", Details: err.Error()})
		return
	}
	msg := apperr.Message(err)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Msg == "" {
		msg = http.StatusText(status)
	}
	writeJSONStatus(w, status, errorBody{Error: msg})
}

// authorize checks perm on rel for the request's user and writes the denial
// response itself. rel is only used for ACL matching.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, perm auth.Perm, rel string) bool {
	ok, err := s.auth.Allowed(auth.UserFromContext(r.Context()), "/"+fsutil.CleanRelPath(rel), perm)
	if err == nil && ok {
		return true
	}
	if s.auth.ShouldChallenge(r) {
		auth.Challenge(w)
		return false
	}
	s.log.Warn("access denied",
		slog.String("request_id", requestID(r.Context())),
		slog.String("user", auth.UserFromContext(r.Context())),
		slog.String("perm", perm.String()),
		slog.String("path", rel),
	)
	writeJSONStatus(w, http.StatusForbidden, errorBody{Error: "Forbidden"})
	return false
}
