package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/dayloop/dayloop-server/internal/application/delivery"
	"github.com/dayloop/dayloop-server/internal/domain"
	"github.com/dayloop/dayloop-server/internal/pkg/id"
	"golang.org/x/crypto/bcrypt"
)

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6"`
	Type  string `json:"type" validate:"required,oneof=signup login reset_password"`
}

type Service interface {
	Signup(ctx context.Context, req domain.SignupRequest) (*domain.User, error)
	RequestOTP(ctx context.Context, email, otpType string) error
	VerifyOTP(ctx context.Context, email, code, otpType string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Put(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

type otpStore interface {
	Put(ctx context.Context, c *domain.OneTimeCode) error
	GetLatestMatch(ctx context.Context, email, code, otpType string, now int64) (*domain.OneTimeCode, error)
	MarkUsed(ctx context.Context, email, codeID string) error
}

type service struct {
	userRepo  userStore
	otpRepo   otpStore
	queue     delivery.Enqueuer
	otpExpiry time.Duration
}

type ServiceDeps struct {
	UserRepo  userStore
	OTPRepo   otpStore
	Queue     delivery.Enqueuer
	OTPExpiry time.Duration
}

func NewService(deps ServiceDeps) Service {
	return &service{
		userRepo:  deps.UserRepo,
		otpRepo:   deps.OTPRepo,
		queue:     deps.Queue,
		otpExpiry: deps.OTPExpiry,
	}
}

func (s *service) Signup(ctx context.Context, req domain.SignupRequest) (*domain.User, error) {
	if _, err := s.userRepo.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Put(ctx, u); err != nil {
		return nil, err
	}
	if err := s.RequestOTP(ctx, u.Email, domain.OTPTypeSignup); err != nil {
		return nil, err
	}
	return u, nil
}

// RequestOTP stores a fresh 6-digit code and queues its delivery at the
// critical band. Previously issued unused codes are left alone; the newest
// code is what verification matches first.
func (s *service) RequestOTP(ctx context.Context, email, otpType string) error {
	code, err := randomCode()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	row := &domain.OneTimeCode{
		Email:     email,
		CodeID:    id.New(),
		Code:      code,
		Type:      otpType,
		ExpiresAt: now.Add(s.otpExpiry).Unix(),
		CreatedAt: now,
	}
	if err := s.otpRepo.Put(ctx, row); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, domain.JobOTPCode, email, domain.PriorityCritical, map[string]string{
		"code":     code,
		"otp_type": otpType,
	})
}

// VerifyOTP consumes the newest live code matching (email, code, type).
// Wrong value, wrong type, expired, or already used all collapse into the
// same rejection so the caller learns nothing about which it was.
func (s *service) VerifyOTP(ctx context.Context, email, code, otpType string) error {
	row, err := s.otpRepo.GetLatestMatch(ctx, email, code, otpType, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("verification rejected: %w", domain.ErrInvalidOTP)
	}
	// Conditional flip: if a concurrent verify got the same row first, this
	// one loses.
	if err := s.otpRepo.MarkUsed(ctx, email, row.CodeID); err != nil {
		return err
	}
	if otpType == domain.OTPTypeSignup {
		u, err := s.userRepo.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if err := s.userRepo.Update(ctx, u.UserID, map[string]interface{}{"email_verified": true}); err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, domain.JobWelcome, email, domain.PriorityStandard, map[string]string{
			"full_name": u.FullName,
		}); err != nil {
			slog.Warn("could not queue welcome notification", "email", email, "err", err)
		}
	}
	return nil
}

// RequestPasswordReset issues a reset code when the account exists. The
// outcome is deliberately identical either way so the endpoint cannot be
// used to enumerate accounts.
func (s *service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Debug("password reset requested for unknown email", "email", email)
			return nil
		}
		return err
	}
	if u.DeletedAt != nil {
		return nil
	}
	return s.RequestOTP(ctx, email, domain.OTPTypeReset)
}

// ResetPassword re-verifies the code inline and replaces the password hash.
func (s *service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := s.VerifyOTP(ctx, email, code, domain.OTPTypeReset); err != nil {
		return err
	}
	u, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.userRepo.Update(ctx, u.UserID, map[string]interface{}{"password_hash": string(hash)})
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
