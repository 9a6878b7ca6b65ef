package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dayloop/dayloop-server/internal/domain"
	jwtinfra "github.com/dayloop/dayloop-server/internal/infrastructure/jwt"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Credentials is one issued access/refresh token pair.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

type LoginResult struct {
	Credentials
	User *domain.User
}

type Service interface {
	IssueCredentials(ctx context.Context, userID, email string) (*Credentials, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Rotate(ctx context.Context, refreshToken string) (*Credentials, error)
	Logout(ctx context.Context, userID string, jti *string) error
}

type credentialStore interface {
	Put(ctx context.Context, c *domain.Credential) error
	Get(ctx context.Context, jti string) (*domain.Credential, error)
	Revoke(ctx context.Context, jti string, at time.Time) error
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]domain.Credential, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type tokenProvider interface {
	SignAccess(userID, email, jti string) (string, error)
	SignRefresh(userID, email, jti string) (string, error)
	VerifyRefresh(tokenStr string) (*jwtinfra.Claims, error)
}

// otpRequester is the slice of the auth service that login needs when it
// hits an unverified account.
type otpRequester interface {
	RequestOTP(ctx context.Context, email, otpType string) error
}

type service struct {
	credentialRepo credentialStore
	userRepo       userStore
	tokens         tokenProvider
	otp            otpRequester
	refreshDur     time.Duration
}

type ServiceDeps struct {
	CredentialRepo credentialStore
	UserRepo       userStore
	Tokens         tokenProvider
	OTP            otpRequester
	RefreshDur     time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{
		credentialRepo: deps.CredentialRepo,
		userRepo:       deps.UserRepo,
		tokens:         deps.Tokens,
		otp:            deps.OTP,
		refreshDur:     deps.RefreshDur,
	}
}

// IssueCredentials mints a fresh jti, signs both tokens for it, and persists
// the credential row that makes the refresh token rotatable and revocable.
func (s *service) IssueCredentials(ctx context.Context, userID, email string) (*Credentials, error) {
	jti := uuid.NewString()
	access, err := s.tokens.SignAccess(userID, email, jti)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.tokens.SignRefresh(userID, email, jti)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	now := time.Now().UTC()
	cred := &domain.Credential{
		JTI:         jti,
		UserID:      userID,
		IssuedToken: refresh,
		ExpiresAt:   now.Add(s.refreshDur).Unix(),
		CreatedAt:   now,
	}
	if err := s.credentialRepo.Put(ctx, cred); err != nil {
		return nil, err
	}
	return &Credentials{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil || u.DeletedAt != nil {
		return nil, fmt.Errorf("login rejected: %w", domain.ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("login rejected: %w", domain.ErrInvalidCredentials)
	}
	if !u.EmailVerified {
		// The caller has to complete the OTP flow before retrying; send them
		// a fresh code now. A failed send still yields the same rejection.
		if err := s.otp.RequestOTP(ctx, u.Email, domain.OTPTypeLogin); err != nil {
			slog.Warn("could not issue login OTP", "email", u.Email, "err", err)
		}
		return nil, fmt.Errorf("login rejected: %w", domain.ErrEmailNotVerified)
	}
	creds, err := s.IssueCredentials(ctx, u.UserID, u.Email)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Credentials: *creds, User: u}, nil
}

// Rotate exchanges a refresh token for a new pair, revoking the old
// credential first. A token whose credential is missing, revoked, or expired
// is rejected outright; a rotated-away token showing up again is the replay
// signal this check exists for.
func (s *service) Rotate(ctx context.Context, refreshToken string) (*Credentials, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token rejected: %w", domain.ErrInvalidToken)
	}
	cred, err := s.credentialRepo.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("unknown credential: %w", domain.ErrInvalidToken)
		}
		return nil, err
	}
	if cred.RevokedAt != nil {
		return nil, fmt.Errorf("credential already rotated: %w", domain.ErrTokenRevoked)
	}
	if !cred.Usable(time.Now()) {
		return nil, fmt.Errorf("credential expired: %w", domain.ErrInvalidToken)
	}
	// Conditional write: of two concurrent rotations of the same jti, the
	// first wins and the second fails here.
	if err := s.credentialRepo.Revoke(ctx, claims.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.IssueCredentials(ctx, cred.UserID, claims.Email)
}

// Logout revokes the presented credential (when the caller supplied its
// refresh token) and then every other active credential for the user, so
// devices that didn't present a token are logged out too.
func (s *service) Logout(ctx context.Context, userID string, jti *string) error {
	now := time.Now().UTC()
	if jti != nil {
		if err := s.credentialRepo.Revoke(ctx, *jti, now); err != nil && !errors.Is(err, domain.ErrTokenRevoked) {
			return err
		}
	}
	active, err := s.credentialRepo.ListActiveByUser(ctx, userID, now)
	if err != nil {
		return err
	}
	var firstErr error
	for i := range active {
		if err := s.credentialRepo.Revoke(ctx, active[i].JTI, now); err != nil && !errors.Is(err, domain.ErrTokenRevoked) {
			slog.Warn("could not revoke credential during logout", "jti", active[i].JTI, "user_id", userID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
