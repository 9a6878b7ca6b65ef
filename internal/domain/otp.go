package domain

import "time"

// OTP purposes. A code is never valid across purposes.
const (
	OTPTypeSignup = "signup"
	OTPTypeLogin  = "login"
	OTPTypeReset  = "reset_password"
)

// OneTimeCode stores a 6-digit email verification code.
// PK: email, SK: code_id (ULID, so newest-first queries give
// most-recently-created order). ExpiresAt doubles as the DynamoDB TTL.
// Requesting a new code does not invalidate older unused codes for the
// same email/type; they stay valid until their own expiry.
type OneTimeCode struct {
	Email     string    `json:"email" dynamodbav:"email"`
	CodeID    string    `json:"code_id" dynamodbav:"code_id"`
	Code      string    `json:"-" dynamodbav:"code"`
	Type      string    `json:"type" dynamodbav:"type"`
	ExpiresAt int64     `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix seconds)
	Used      bool      `json:"used" dynamodbav:"used"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
}
