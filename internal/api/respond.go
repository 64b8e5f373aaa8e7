package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/engine"
)

// Response is the envelope of every API reply.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error describes a failed request. Code is a core error kind such as
// "CAP_EXCEEDED", or one of the transport codes below.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Transport error codes.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeNotFound        = "NOT_FOUND"
	CodeStopped         = "ENGINE_STOPPED"
	CodeInternal        = "INTERNAL"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Status: "error", Error: &Error{Code: code, Message: message}})
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// StatusFor maps a domain error kind to an HTTP status.
func StatusFor(kind core.Kind) int {
	switch kind {
	case core.KindInsufficientPayment:
		return http.StatusPaymentRequired
	case core.KindUnauthorized, core.KindInvalidSignature:
		return http.StatusForbidden
	case core.KindUnknownCommitment, core.KindUnknownProduct:
		return http.StatusNotFound
	case core.KindSignerLimitExceeded:
		return http.StatusTooManyRequests
	case core.KindPaused:
		return http.StatusServiceUnavailable
	case core.KindInvalidQuantity, core.KindBelowCutoff:
		return http.StatusUnprocessableEntity
	case core.KindNonceReused, core.KindInvalidEscrowState, core.KindAlreadyFulfilled,
		core.KindCapExceeded, core.KindInsufficientBalance, core.KindAlreadyConsumed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Domain errors carry their kind; anything else is an
// internal error and is logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if kind := core.KindOf(err); kind != "" {
		writeError(w, StatusFor(kind), string(kind), err.Error())
		return
	}
	if engine.IsStoppedError(err) || r.Context().Err() != nil {
		writeError(w, http.StatusServiceUnavailable, CodeStopped, err.Error())
		return
	}
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
}
