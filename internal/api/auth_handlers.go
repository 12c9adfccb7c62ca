package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/clubfeed/eventpipe/internal/auth"
	"github.com/clubfeed/eventpipe/internal/config"
)

// AuthHandler issues operator tokens.
type AuthHandler struct {
	cfg    config.AuthConfig
	logger *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(cfg config.AuthConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, logger: logger}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.JWTSecret == "" || h.cfg.AdminPasswordHash == "" {
		http.Error(w, auth.ErrDisabled.Error(), http.StatusServiceUnavailable)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !auth.CheckPassword(req.Password, h.cfg.AdminPasswordHash) {
		h.logger.Warn("failed operator login", "remote_addr", r.RemoteAddr)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken("operator", h.cfg.JWTSecret, h.cfg.TokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info("operator logged in", "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.cfg.TokenTTL).UTC(),
	})
}
