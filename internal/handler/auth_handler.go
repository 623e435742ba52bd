package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"webgrave/internal/service"
	"webgrave/internal/util"
)

// AuthHandler serves registration, login and the verification and password
// reset challenges.
type AuthHandler struct {
	auth       *service.AuthService
	limiter    RateLimiter
	authLimit  int
	authWindow time.Duration
}

func NewAuthHandler(auth *service.AuthService, limiter RateLimiter, authPerMinute int) *AuthHandler {
	return &AuthHandler{
		auth:       auth,
		limiter:    limiter,
		authLimit:  authPerMinute,
		authWindow: time.Minute,
	}
}

func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RateLimitByIP(h.limiter, "auth", h.authLimit, h.authWindow))
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/verify-otp", h.VerifyOTP)
			r.Post("/resend-otp", h.ResendOTP)
			r.Post("/forgot-password", h.ForgotPassword)
			r.Post("/reset-password", h.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(h.auth))
			r.Get("/me", h.Me)
			r.Delete("/me", h.DeleteMe)
			r.Post("/logout", h.Logout)
		})
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

type resendRequest struct {
	UserID string `json:"userId"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	UserID      string `json:"userId"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	account, err := h.auth.Register(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful, check your email for the verification code",
		"userId":  account.AccountID,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithSession(w, result)
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.OTP) == "" {
		respondWithError(w, r, errInvalid("userId and otp are required"))
		return
	}

	result, err := h.auth.VerifyEmail(r.Context(), req.UserID, strings.TrimSpace(req.OTP))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	util.Info("Email verified via HTTP", util.AccountID(result.Account.AccountID))
	respondWithSession(w, result)
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.UserID == "" {
		respondWithError(w, r, errInvalid("userId is required"))
		return
	}

	result, err := h.auth.ResendVerification(r.Context(), req.UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithIssue(w, "A new verification code has been sent", result)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	result, err := h.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithIssue(w, "A password reset code has been sent", result)
}

// ResetPassword reports a locked challenge as 403 with tooManyAttempts set,
// unlike verify-otp which answers 429.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.OTP) == "" {
		respondWithError(w, r, errInvalid("userId and otp are required"))
		return
	}

	err := h.auth.ResetPassword(r.Context(), req.UserID, strings.TrimSpace(req.OTP), req.NewPassword)
	if err != nil {
		var otpErr *service.OTPError
		if errors.As(err, &otpErr) && errors.Is(err, service.ErrTooManyAttempts) {
			respondWithJSON(w, http.StatusForbidden, map[string]any{
				"error":           "too_many_attempts",
				"message":         err.Error(),
				"tooManyAttempts": true,
				"remainingTime":   otpErr.RemainingTime,
			})
			return
		}
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "Password has been reset, please log in",
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	account, err := h.auth.Me(r.Context(), claims.UserID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"user": account.Public()})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), ClaimsFromContext(r.Context())); err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"message": "Logged out"})
}

func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if err := h.auth.DeleteAccount(r.Context(), claims.UserID, claims.UserID); err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"message": "Account deleted"})
}

func respondWithSession(w http.ResponseWriter, result *service.AuthResult) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"token":     result.Session.Token,
		"expiresAt": result.Session.ExpiresAt,
		"user":      result.Account.Public(),
	})
}

func respondWithIssue(w http.ResponseWriter, message string, result *service.IssueResult) {
	respondWithJSON(w, http.StatusOK, map[string]any{
		"message":        message,
		"userId":         result.AccountID,
		"cooldownEndsAt": result.CooldownEndsAt,
	})
}
