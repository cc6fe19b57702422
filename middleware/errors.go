package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MrEthical07/fingate"
)

type errorBody struct {
	Error      fingate.ErrorKind `json:"error"`
	RetryAfter int64             `json:"retry_after,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind fingate.ErrorKind) int {
	switch kind {
	case fingate.KindRateLimited, fingate.KindLocked:
		return http.StatusTooManyRequests
	case fingate.KindInvalidToken, fingate.KindInvalidCredentials:
		return http.StatusUnauthorized
	case fingate.KindOTPInvalid, fingate.KindResetInvalid:
		return http.StatusForbidden
	case fingate.KindAccountExists:
		return http.StatusConflict
	case fingate.KindPasswordPolicy:
		return http.StatusUnprocessableEntity
	case fingate.KindInvalidRequest:
		return http.StatusBadRequest
	case fingate.KindProviderUnavailable, fingate.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as {"error": kind, "retry_after": seconds}.
func WriteError(w http.ResponseWriter, err error) {
	kind := fingate.KindOf(err)
	if kind == "" {
		kind = fingate.KindInternal
	}
	body := errorBody{Error: kind, RetryAfter: fingate.RetryAfterSeconds(err)}
	if body.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfter, 10))
	}
	WriteJSON(w, StatusFor(kind), body)
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
