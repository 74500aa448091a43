package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the single place failures become HTTP responses. Server side
// failures are logged and only described to clients in development.
func (app *application) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal("unexpected error", err)
	}
	status := statusFor(ae.Kind)

	resp := errorResponse{Error: ae.Message}
	if status >= http.StatusInternalServerError {
		app.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Stringer("kind", ae.Kind),
			zap.Error(err))
		resp.Error = "internal server error"
		if app.cfg.Development() {
			resp.Details = err.Error()
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

const maxJSONBody = 1 << 20

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe):
			return apperr.Validation("request body too large")
		case errors.Is(err, io.EOF):
			return apperr.Validation("request body is required")
		default:
			return apperr.Validation("malformed JSON body")
		}
	}
	return nil
}
