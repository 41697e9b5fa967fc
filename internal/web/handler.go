// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package web exposes the auth flows over HTTP with JSON bodies.
package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/rs/cors"
	"github.com/samber/oops"

	"github.com/authcore/authcore/internal/auth"
)

// Handler serves the /auth routes.
type Handler struct {
	svc        *auth.Service
	authn      *auth.Authenticator
	cfg        Config
	extractors Extractors
	limiter    *Limiter
	cors       *cors.Cors
	logger     *slog.Logger
}

// NewHandler creates a Handler over svc.
func NewHandler(svc *auth.Service, cfg Config, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("WEB_CONFIG_INVALID").Errorf("auth service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	c, err := newCORS(cfg.AllowedOrigins, cfg.RefreshHeader)
	if err != nil {
		return nil, err
	}
	return &Handler{
		svc:        svc,
		authn:      svc.Authenticator(),
		cfg:        cfg,
		extractors: DefaultExtractors(cfg),
		limiter:    NewLimiter(cfg.LoginLimit),
		cors:       c,
		logger:     logger,
	}, nil
}

// Routes returns the router serving every auth endpoint under /auth.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(h.cors.Handler)

	r.Route("/auth", func(r chi.Router) {
		r.With(h.limit).Post("/register", h.register)
		r.With(h.limit).Post("/login", h.login)
		r.With(h.limit).Post("/forgot-password", h.forgotPassword)
		r.With(h.limit).Post("/reset-password", h.resetPassword)
		r.Post("/refresh", h.refresh)
		r.With(h.optionalAccess).Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAccess)
			r.Post("/logout-all", h.logoutAll)
			r.Post("/change-password", h.changePassword)
			r.Get("/me", h.me)
			r.Get("/sessions", h.sessions)
			r.Delete("/sessions/{id}", h.revokeSession)
		})
	})
	return r
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type authResponse struct {
	User         auth.UserView `json:"user"`
	AccessToken  string        `json:"access_token"`
	ExpiresAt    time.Time     `json:"expires_at"`
	RefreshToken string        `json:"refresh_token,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type logoutAllResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

type sessionsResponse struct {
	Sessions []auth.SessionView `json:"sessions"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.Register(r.Context(), req.Email, req.Password, sessionMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeAuth(w, http.StatusCreated, result)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.Login(r.Context(), req.Email, req.Password, sessionMeta(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeAuth(w, http.StatusOK, result)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := h.decode(w, r, &body, true); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, source := h.extractors.Extract(r, body)
	if token == "" {
		h.clearRefreshCookie(w)
		h.writeError(w, r, oops.Code(auth.CodeRefreshFailed).Errorf("refresh token missing"))
		return
	}

	grant, err := h.authn.Refresh(r.Context(), token)
	if err != nil {
		h.clearRefreshCookie(w)
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.Refresh(r.Context(), *grant, sessionMeta(r))
	if err != nil {
		h.clearRefreshCookie(w)
		h.writeError(w, r, err)
		return
	}
	h.logger.DebugContext(r.Context(), "refresh token rotated", "source", source, "user_id", result.User.ID)
	h.writeAuth(w, http.StatusOK, result)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := h.decode(w, r, &body, true); err != nil {
		// A garbled body must not keep the client from logging out.
		body = refreshBody{}
	}
	token, _ := h.extractors.Extract(r, body)
	h.svc.Logout(r.Context(), auth.LogoutRequest{
		RefreshToken: token,
		Principal:    PrincipalFrom(r.Context()),
	})
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.LogoutAllDevices(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Message: "logged out of all devices", Revoked: n})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.svc.ChangePassword(r.Context(), PrincipalFrom(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password changed, sign in again"})
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.svc.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := h.decode(w, r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "password reset, sign in with the new password"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Me(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.Sessions(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if views == nil {
		views = []auth.SessionView{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: views})
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, oops.Code(auth.CodeNotFound).Errorf("session not found"))
		return
	}
	if err := h.svc.RevokeSession(r.Context(), PrincipalFrom(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeAuth(w http.ResponseWriter, status int, result *auth.AuthResult) {
	h.setRefreshCookie(w, result.RefreshToken, result.RefreshExpiresAt)
	resp := authResponse{
		User:        result.User,
		AccessToken: result.AccessToken,
		ExpiresAt:   result.AccessExpiresAt,
	}
	if h.cfg.ExposeRefreshToken {
		resp.RefreshToken = result.RefreshToken
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst. With optional set an empty body is
// accepted and leaves dst untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		if optional {
			return nil
		}
		return oops.Code(auth.CodeValidation).Errorf("request body is required")
	}
	if err != nil {
		return errMalformedBody(err)
	}
	return nil
}
