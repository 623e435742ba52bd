package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"webgrave/internal/service"
	"webgrave/internal/util"
)

const maxBodyBytes = 1 << 20

// respondWithJSON sends body with "success" set according to the status.
func respondWithJSON(w http.ResponseWriter, statusCode int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["success"] = statusCode < http.StatusBadRequest

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err onto a status code, an error code and any
// detail fields the client needs (remaining attempts, cooldowns, ids).
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := getStatusCode(err)
	body := map[string]any{
		"error":   code,
		"message": err.Error(),
	}
	addErrorDetails(body, err)

	logger := util.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", status),
			util.String("path", r.URL.Path))
		if status == http.StatusInternalServerError {
			body["message"] = "internal server error"
		}
	} else {
		logger.Debug("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", status),
			util.String("path", r.URL.Path))
	}
	respondWithJSON(w, status, body)
}

// getStatusCode determines the HTTP status and the stable error code for err.
func getStatusCode(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrMemorialNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrAccountExists):
		return http.StatusBadRequest, "already_exists"
	case errors.Is(err, service.ErrUnverifiedExists):
		return http.StatusBadRequest, "unverified_exists"
	case errors.Is(err, service.ErrAlreadyVerified):
		return http.StatusBadRequest, "already_verified"
	case errors.Is(err, service.ErrVerificationRequired):
		return http.StatusForbidden, "verification_required"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, service.ErrInvalidOTP):
		return http.StatusBadRequest, "invalid_otp"
	case errors.Is(err, service.ErrChallengeExpired):
		return http.StatusBadRequest, "otp_expired"
	case errors.Is(err, service.ErrNoChallenge):
		return http.StatusBadRequest, "no_challenge"
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, service.ErrMailDispatch):
		return http.StatusBadGateway, "mail_failed"
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, service.ErrConcurrentUpdate):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func addErrorDetails(body map[string]any, err error) {
	var otpErr *service.OTPError
	if errors.As(err, &otpErr) {
		if errors.Is(otpErr, service.ErrTooManyAttempts) {
			body["remainingTime"] = otpErr.RemainingTime
		} else {
			body["remainingAttempts"] = otpErr.RemainingAttempts
			body["blocked"] = otpErr.Blocked
			if otpErr.Blocked {
				body["remainingTime"] = otpErr.RemainingTime
			}
		}
	}

	var throttle *service.ThrottleError
	if errors.As(err, &throttle) {
		body["remainingTime"] = throttle.RemainingTime
	}

	var verification *service.VerificationRequiredError
	if errors.As(err, &verification) {
		body["userId"] = verification.AccountID
		body["isUnverified"] = true
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", service.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON body", service.ErrInvalidInput)
	}
	return nil
}

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, msg)
}
