package domain

import "time"

// Credential is the persisted record of one issued refresh token.
// Rows are never hard-deleted: a revoked row is what lets a replayed
// token be recognised after rotation.
type Credential struct {
	JTI         string     `json:"jti" dynamodbav:"jti"`
	UserID      string     `json:"user_id" dynamodbav:"user_id"`
	IssuedToken string     `json:"-" dynamodbav:"issued_token"`
	ExpiresAt   int64      `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
	RevokedAt   *time.Time `json:"revoked_at,omitempty" dynamodbav:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created" dynamodbav:"created_at"`
}

// Usable reports whether the credential can still mint new access tokens:
// not revoked and not past its expiry.
func (c *Credential) Usable(now time.Time) bool {
	return c.RevokedAt == nil && c.ExpiresAt > now.Unix()
}
