package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dayloop/dayloop-server/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AuthEnvelope wraps responses that carry a token pair.
type AuthEnvelope struct {
	AccessToken  string       `json:"access_token,omitempty"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	User         *domain.User `json:"user,omitempty"`
	Message      string       `json:"message,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// SignupEnvelope wraps the signup response.
type SignupEnvelope struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// VerifyEnvelope wraps the verify-otp response.
type VerifyEnvelope struct {
	Message  string `json:"message"`
	Verified bool   `json:"verified"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps domain sentinel errors onto HTTP status codes. Anything
// unrecognised is an internal error and the detail stays server-side.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidCredentials.Error())
	case errors.Is(err, domain.ErrEmailNotVerified):
		writeError(w, http.StatusForbidden, domain.ErrEmailNotVerified.Error())
	case errors.Is(err, domain.ErrInvalidOTP):
		writeError(w, http.StatusBadRequest, domain.ErrInvalidOTP.Error())
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrTokenRevoked):
		writeError(w, http.StatusUnauthorized, domain.ErrInvalidToken.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
