// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package web

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
	"github.com/authcore/authcore/pkg/errutil"
)

// Codes produced by the adapter itself.
const (
	CodeRateLimited = "RATE_LIMITED"
	CodeInternal    = "INTERNAL"
)

var statusByCode = map[string]int{
	auth.CodeValidation:             http.StatusBadRequest,
	auth.CodeInvalidCredentials:     http.StatusUnauthorized,
	auth.CodeAccountDisabled:        http.StatusForbidden,
	auth.CodeAccountLocked:          http.StatusTooManyRequests,
	auth.CodeConflict:               http.StatusConflict,
	auth.CodeNotAuthenticated:       http.StatusUnauthorized,
	auth.CodeNotFound:               http.StatusNotFound,
	auth.CodeTokenInvalid:           http.StatusUnauthorized,
	auth.CodeTokenExpired:           http.StatusUnauthorized,
	auth.CodeCurrentPasswordInvalid: http.StatusBadRequest,
	auth.CodeRefreshFailed:          http.StatusUnauthorized,
	CodeRateLimited:                 http.StatusTooManyRequests,
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errMalformedBody(err error) error {
	return oops.Code(auth.CodeValidation).Wrapf(err, "malformed request body")
}

func errRateLimited(retryAfter time.Duration) error {
	return oops.Code(CodeRateLimited).
		With("retry_after", retryAfter).
		Errorf("too many attempts, try again later")
}

// writeError renders err as {"error":{"code","message"}}. Errors without a
// public code become an opaque 500 and are logged.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	status, public := statusByCode[code]
	if !public {
		errutil.Log(r.Context(), h.logger, slog.LevelError, "request failed", err,
			"method", r.Method, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    CodeInternal,
			Message: "internal server error",
		}})
		return
	}

	if wait, ok := retryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(wait))
	}
	if status == http.StatusUnauthorized && code != auth.CodeInvalidCredentials {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: publicMessage(err)}})
}

// publicMessage returns the message of the oops error carrying the code.
func publicMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := oopsErr.Error(); msg != "" {
			return msg
		}
	}
	return err.Error()
}

// retryAfter reports whole seconds a client should wait, from either a
// limiter delay or an account lockout deadline.
func retryAfter(err error) (int, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	ctx := oopsErr.Context()
	var wait time.Duration
	switch v := ctx["retry_after"].(type) {
	case time.Duration:
		wait = v
	default:
		until, ok := ctx["locked_until"].(time.Time)
		if !ok {
			return 0, false
		}
		wait = time.Until(until)
	}
	if wait <= 0 {
		return 1, true
	}
	return int(math.Ceil(wait.Seconds())), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
