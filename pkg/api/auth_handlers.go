package api

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        int64     `json:"session_id"`
}

func tokenResponseFrom(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.authSvc.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		httputil.WriteUnauthorized(w)
		return
	}
	if errors.Is(err, auth.ErrLicenseInactive) {
		httputil.WriteForbidden(w)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("login failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	pair, err := s.authSvc.CreateSession(r.Context(), user, remoteIP(r), r.UserAgent())
	if err != nil {
		s.logger.WithError(err).Error("session creation failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponseFrom(pair))
}

type refreshRequest struct {
	SessionID    int64  `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == 0 || req.RefreshToken == "" {
		httputil.WriteError(w, http.StatusBadRequest, "session_id and refresh_token are required")
		return
	}

	pair, err := s.authSvc.RefreshSession(r.Context(), req.SessionID, req.RefreshToken)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, tokenResponseFrom(pair))
	case errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrSessionRevoked),
		errors.Is(err, auth.ErrRefreshExpired),
		errors.Is(err, auth.ErrInvalidRefreshToken):
		httputil.WriteUnauthorized(w)
	default:
		s.logger.WithError(err).Error("refresh failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w)
		return
	}
	if err := s.authSvc.RevokeSession(r.Context(), principal.SessionID); err != nil {
		s.logger.WithError(err).Error("logout failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":         principal.UserID,
		"username":        principal.Username,
		"organization_id": principal.OrganizationID,
		"role_id":         principal.RoleID,
		"session_id":      principal.SessionID,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword always answers 202. Whether a token was issued,
// declined by the rate limit, or the email was unknown is not observable
// from the response.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Email == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}
	if _, err := s.authSvc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.logger.WithError(err).Error("password reset request failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil || req.Token == "" || req.NewPassword == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token and new_password are required")
		return
	}
	err := s.authSvc.ResetPassword(r.Context(), req.Token, req.NewPassword)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusNoContent, nil)
	case errors.Is(err, auth.ErrResetTokenInvalid):
		httputil.WriteError(w, http.StatusBadRequest, "invalid or expired reset token")
	default:
		s.logger.WithError(err).Error("password reset failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleSSOStart(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		httputil.WriteError(w, http.StatusBadRequest, "state is required")
		return
	}
	http.Redirect(w, r, s.ssoProvider.AuthURL(state), http.StatusFound)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteError(w, http.StatusBadRequest, "code is required")
		return
	}
	identity, err := s.ssoProvider.Exchange(r.Context(), code)
	if err != nil {
		s.logger.WithError(err).Warn("sso exchange failed")
		httputil.WriteUnauthorized(w)
		return
	}
	user, err := s.provisioner.Resolve(r.Context(), identity)
	if err != nil {
		s.logger.WithError(err).Error("sso provisioning failed")
		httputil.WriteUnauthorized(w)
		return
	}
	pair, err := s.authSvc.CreateSession(r.Context(), user, remoteIP(r), r.UserAgent())
	if err != nil {
		s.logger.WithError(err).Error("sso session creation failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponseFrom(pair))
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
