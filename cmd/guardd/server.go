package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	promexport "github.com/MrEthical07/goGuard/metrics/export/prometheus"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type server struct {
	engine *goGuard.Engine
	log    *logrus.Logger
}

func newServer(engine *goGuard.Engine, log *logrus.Logger) *server {
	return &server{engine: engine, log: log}
}

func (s *server) routes() http.Handler {
	cfg := s.engine.Config()
	prefix := strings.TrimSuffix(cfg.Pipeline.AuthPrefix, "/")

	r := mux.NewRouter()
	r.Use(s.recoverer)
	r.Use(middleware.New(s.engine, middleware.WithAnonymous("/healthz", "/metrics")).Handler)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promexport.NewExporter(s.engine).Handler()).Methods(http.MethodGet)

	auth := r.PathPrefix(prefix).Subrouter()
	auth.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	auth.HandleFunc("/send-otp", s.handleSendOTP).Methods(http.MethodPost)
	auth.HandleFunc("/login-otp", s.handleLoginOTP).Methods(http.MethodPost)
	auth.HandleFunc("/reset-otp", s.handleResetOTP).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)
	auth.HandleFunc("/change-password", s.handleChangePassword).Methods(http.MethodPost)
	auth.Handle("/captcha", middleware.IssueLimiterFor(s.engine).Limit(http.HandlerFunc(s.handleCaptcha))).Methods(http.MethodGet)

	account := r.PathPrefix("/api/v1/account").Subrouter()
	account.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	account.HandleFunc("/logout-all", s.handleLogoutAll).Methods(http.MethodPost)
	account.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	account.HandleFunc("/sessions/{id}/revoke", s.handleRevokeSession).Methods(http.MethodPost)

	admin := r.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(requireGrant(adminRole))
	admin.HandleFunc("/unlock/{username}", s.handleUnlock).Methods(http.MethodPost)
	admin.HandleFunc("/security-report", s.handleSecurityReport).Methods(http.MethodGet)

	return r
}

/*
====================================
AUTH ROUTES
====================================
*/

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req goGuard.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Login(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.engine.SetTokenCookies(w, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	s.decodeOptional(r, &req)
	value := req.RefreshToken
	if value == "" {
		value = s.engine.RefreshFromRequest(r)
	}

	res, err := s.engine.Refresh(r.Context(), value)
	if err != nil {
		s.engine.ClearCookies(w)
		s.fail(w, r, err)
		return
	}
	s.engine.SetTokenCookies(w, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	s.decodeOptional(r, &req)
	value := req.RefreshToken
	if value == "" {
		value = s.engine.RefreshFromRequest(r)
	}

	if err := s.engine.Logout(r.Context(), s.engine.ExtractToken(r), value); err != nil {
		s.fail(w, r, err)
		return
	}
	s.engine.ClearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req goGuard.RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.engine.SetTokenCookies(w, res)
	writeJSON(w, http.StatusCreated, res)
}

type usernameRequest struct {
	Username string `json:"username"`
}

func (s *server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SendLoginOTP(r.Context(), req.Username); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleLoginOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		OTP      string `json:"otp"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoginWithOTP(r.Context(), req.Username, req.OTP)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.engine.SetTokenCookies(w, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleResetOTP(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SendResetOTP(r.Context(), req.Username); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req goGuard.ResetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ResetPassword(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req goGuard.ChangePasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ChangePassword(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.engine.ClearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCaptcha(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GenerateCaptcha(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"captchaToken": c.ID,
		"image":        c.Payload,
		"expiresIn":    int(c.TTL / time.Second),
	})
}

/*
====================================
AUTHENTICATED ROUTES
====================================
*/

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": p.Subject,
		"userId":  p.UserID,
		"grants":  p.Grants.List(),
	})
}

func (s *server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.LogoutAll(r.Context(), p.Subject); err != nil {
		s.fail(w, r, err)
		return
	}
	// The caller's own access token stays valid until it expires.
	if err := s.engine.Logout(r.Context(), s.engine.ExtractToken(r), ""); err != nil {
		s.fail(w, r, err)
		return
	}
	s.engine.ClearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	sessions, err := s.engine.ListSessions(r.Context(), p.Subject)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.engine.RevokeSession(r.Context(), p.Subject, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UnlockAccount(r.Context(), mux.Vars(r)["username"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSecurityReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.SecurityReport())
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/*
====================================
HELPERS
====================================
*/

func requireGrant(grant string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := middleware.PrincipalFromContext(r.Context())
			if !ok || !p.Has(grant) {
				writeJSON(w, http.StatusForbidden, middleware.ErrorBody{Code: "forbidden", Message: "missing grant " + grant})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, _ := middleware.BodyFromContext(r.Context())
	if err := body.Decode(v); err != nil {
		middleware.WriteError(w, fmt.Errorf("%w: malformed JSON body", goGuard.ErrValidation))
		return false
	}
	return true
}

// decodeOptional ignores missing or malformed bodies; the caller falls back
// to cookies.
func (s *server) decodeOptional(r *http.Request, v any) {
	body, _ := middleware.BodyFromContext(r.Context())
	_ = body.Decode(v)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if goGuard.KindOf(err) == goGuard.KindUnavailable || goGuard.KindOf(err) == goGuard.KindUnknown {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
	}
	middleware.WriteError(w, err)
}

func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				sentry.CurrentHub().Recover(rec)
				s.log.WithField("panic", rec).WithField("path", r.URL.Path).Error("handler panicked")
				writeJSON(w, http.StatusInternalServerError, middleware.ErrorBody{Code: "internal", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
