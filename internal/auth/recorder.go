// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package auth

import (
	"github.com/authcore/authcore/pkg/errutil"
)

// Auth flow names reported to a Recorder.
const (
	FlowRegister       = "register"
	FlowLogin          = "login"
	FlowRefresh        = "refresh"
	FlowLogout         = "logout"
	FlowLogoutAll      = "logout_all"
	FlowChangePassword = "change_password"
	FlowForgotPassword = "forgot_password"
	FlowResetPassword  = "reset_password"
)

// Session revocation reasons reported to a Recorder.
const (
	RevokeReasonRotated        = "rotated"
	RevokeReasonLogout         = "logout"
	RevokeReasonLogoutAll      = "logout_all"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonPasswordReset  = "password_reset"
	RevokeReasonDevice         = "device"
)

// OutcomeSuccess is the outcome label of a successful flow.
const OutcomeSuccess = "success"

// OutcomeInternal is the outcome label of a flow that failed with a
// non-public error.
const OutcomeInternal = "internal"

// Recorder receives auth events for metrics.
type Recorder interface {
	AuthAttempt(flow, outcome string)
	SessionsRevoked(reason string, n int64)
	SessionsSwept(n int64)
}

type nopRecorder struct{}

func (nopRecorder) AuthAttempt(string, string) {}
func (nopRecorder) SessionsRevoked(string, int64) {}
func (nopRecorder) SessionsSwept(int64) {}

// outcome maps a flow result to a bounded label set.
func outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if code := errutil.Code(err); IsPublicCode(code) {
		return code
	}
	return OutcomeInternal
}
