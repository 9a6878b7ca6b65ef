package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dayloop/dayloop-server/internal/domain"
	jwtinfra "github.com/dayloop/dayloop-server/internal/infrastructure/jwt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- mocks ---

type mockCredentialStore struct{ mock.Mock }

func (m *mockCredentialStore) Put(ctx context.Context, c *domain.Credential) error {
	return m.Called(ctx, c).Error(0)
}
func (m *mockCredentialStore) Get(ctx context.Context, jti string) (*domain.Credential, error) {
	args := m.Called(ctx, jti)
	if c, _ := args.Get(0).(*domain.Credential); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockCredentialStore) Revoke(ctx context.Context, jti string, at time.Time) error {
	return m.Called(ctx, jti, at).Error(0)
}
func (m *mockCredentialStore) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]domain.Credential, error) {
	args := m.Called(ctx, userID, now)
	if cs, _ := args.Get(0).([]domain.Credential); cs != nil {
		return cs, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTokenProvider struct{ mock.Mock }

func (m *mockTokenProvider) SignAccess(userID, email, jti string) (string, error) {
	args := m.Called(userID, email, jti)
	return args.String(0), args.Error(1)
}
func (m *mockTokenProvider) SignRefresh(userID, email, jti string) (string, error) {
	args := m.Called(userID, email, jti)
	return args.String(0), args.Error(1)
}
func (m *mockTokenProvider) VerifyRefresh(tokenStr string) (*jwtinfra.Claims, error) {
	args := m.Called(tokenStr)
	if c, _ := args.Get(0).(*jwtinfra.Claims); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockOTPRequester struct{ mock.Mock }

func (m *mockOTPRequester) RequestOTP(ctx context.Context, email, otpType string) error {
	return m.Called(ctx, email, otpType).Error(0)
}

// --- builder ---

func newService(cs *mockCredentialStore, us *mockUserStore, tp *mockTokenProvider, otp *mockOTPRequester) Service {
	return NewService(ServiceDeps{
		CredentialRepo: cs,
		UserRepo:       us,
		Tokens:         tp,
		OTP:            otp,
		RefreshDur:     30 * 24 * time.Hour,
	})
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func refreshClaims(userID, email, jti string) *jwtinfra.Claims {
	return &jwtinfra.Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID: jti,
		},
	}
}

// --- IssueCredentials ---

func TestIssueCredentials_PersistsCredentialUnderFreshJTI(t *testing.T) {
	cs := &mockCredentialStore{}
	tp := &mockTokenProvider{}

	var signedJTI string
	tp.On("SignAccess", "u1", "a@b.com", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { signedJTI = args.String(2) }).
		Return("access-token", nil)
	tp.On("SignRefresh", "u1", "a@b.com", mock.AnythingOfType("string")).Return("refresh-token", nil)
	cs.On("Put", mock.Anything, mock.MatchedBy(func(c *domain.Credential) bool {
		return c.JTI == signedJTI && c.UserID == "u1" && c.IssuedToken == "refresh-token" &&
			c.RevokedAt == nil && c.ExpiresAt > time.Now().Unix()
	})).Return(nil)

	svc := newService(cs, nil, tp, nil)
	creds, err := svc.IssueCredentials(context.Background(), "u1", "a@b.com")

	require.NoError(t, err)
	assert.Equal(t, "access-token", creds.AccessToken)
	assert.Equal(t, "refresh-token", creds.RefreshToken)
	assert.NotEmpty(t, signedJTI)
	cs.AssertExpectations(t)
}

func TestIssueCredentials_DistinctJTIPerIssue(t *testing.T) {
	cs := &mockCredentialStore{}
	tp := &mockTokenProvider{}

	var jtis []string
	tp.On("SignAccess", "u1", "a@b.com", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { jtis = append(jtis, args.String(2)) }).
		Return("access", nil)
	tp.On("SignRefresh", "u1", "a@b.com", mock.AnythingOfType("string")).Return("refresh", nil)
	cs.On("Put", mock.Anything, mock.Anything).Return(nil)

	svc := newService(cs, nil, tp, nil)
	_, err := svc.IssueCredentials(context.Background(), "u1", "a@b.com")
	require.NoError(t, err)
	_, err = svc.IssueCredentials(context.Background(), "u1", "a@b.com")
	require.NoError(t, err)

	require.Len(t, jtis, 2)
	assert.NotEqual(t, jtis[0], jtis[1])
}

// --- Login ---

func TestLogin_UnknownEmail(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "x@x.com").Return(nil, domain.ErrNotFound)

	svc := newService(nil, us, nil, nil)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "x@x.com", Password: "pw"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestLogin_WrongPassword(t *testing.T) {
	us := &mockUserStore{}
	us.On("GetByEmail", mock.Anything, "a@b.com").Return(&domain.User{
		UserID: "u1", Email: "a@b.com", PasswordHash: hashOf(t, "correct"), EmailVerified: true,
	}, nil)

	svc := newService(nil, us, nil, nil)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "wrong"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestLogin_DeletedAccount(t *testing.T) {
	us := &mockUserStore{}
	gone := time.Now()
	us.On("GetByEmail", mock.Anything, "a@b.com").Return(&domain.User{
		UserID: "u1", PasswordHash: hashOf(t, "pw"), DeletedAt: &gone,
	}, nil)

	svc := newService(nil, us, nil, nil)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "pw"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestLogin_UnverifiedEmailSendsOTP(t *testing.T) {
	us := &mockUserStore{}
	otp := &mockOTPRequester{}
	us.On("GetByEmail", mock.Anything, "a@b.com").Return(&domain.User{
		UserID: "u1", Email: "a@b.com", PasswordHash: hashOf(t, "pw"), EmailVerified: false,
	}, nil)
	otp.On("RequestOTP", mock.Anything, "a@b.com", domain.OTPTypeLogin).Return(nil).Once()

	svc := newService(nil, us, nil, otp)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "pw"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmailNotVerified))
	otp.AssertExpectations(t)
}

func TestLogin_UnverifiedEmailOTPFailureStillRejects(t *testing.T) {
	us := &mockUserStore{}
	otp := &mockOTPRequester{}
	us.On("GetByEmail", mock.Anything, "a@b.com").Return(&domain.User{
		UserID: "u1", Email: "a@b.com", PasswordHash: hashOf(t, "pw"),
	}, nil)
	otp.On("RequestOTP", mock.Anything, "a@b.com", domain.OTPTypeLogin).Return(errors.New("queue down"))

	svc := newService(nil, us, nil, otp)
	_, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "pw"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmailNotVerified))
}

func TestLogin_HappyPath(t *testing.T) {
	cs := &mockCredentialStore{}
	us := &mockUserStore{}
	tp := &mockTokenProvider{}

	us.On("GetByEmail", mock.Anything, "a@b.com").Return(&domain.User{
		UserID: "u1", Email: "a@b.com", PasswordHash: hashOf(t, "pw"), EmailVerified: true,
	}, nil)
	tp.On("SignAccess", "u1", "a@b.com", mock.Anything).Return("access", nil)
	tp.On("SignRefresh", "u1", "a@b.com", mock.Anything).Return("refresh", nil)
	cs.On("Put", mock.Anything, mock.AnythingOfType("*domain.Credential")).Return(nil)

	svc := newService(cs, us, tp, nil)
	result, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.com", Password: "pw"})

	require.NoError(t, err)
	assert.Equal(t, "access", result.AccessToken)
	assert.Equal(t, "refresh", result.RefreshToken)
	assert.Equal(t, "u1", result.User.UserID)
}

// --- Rotate ---

func TestRotate_BadToken(t *testing.T) {
	tp := &mockTokenProvider{}
	tp.On("VerifyRefresh", "garbage").Return(nil, errors.New("bad signature"))

	svc := newService(nil, nil, tp, nil)
	_, err := svc.Rotate(context.Background(), "garbage")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidToken))
}

func TestRotate_UnknownCredential(t *testing.T) {
	cs := &mockCredentialStore{}
	tp := &mockTokenProvider{}
	tp.On("VerifyRefresh", "tok").Return(refreshClaims("u1", "a@b.com", "jti-1"), nil)
	cs.On("Get", mock.Anything, "jti-1").Return(nil, domain.ErrNotFound)

	svc := newService(cs, nil, tp, nil)
	_, err := svc.Rotate(context.Background(), "tok")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidToken))
}

func TestRotate_AlreadyRotatedTokenIsRejected(t *testing.T) {
	cs := &mockCredentialStore{}
	tp := &mockTokenProvider{}
	revoked := time.Now().Add(-time.Minute)
	tp.On("VerifyRefresh", "tok").Return(refreshClaims("u1", "a@b.com", "jti-1"), nil)
	cs.On("Get", mock.Anything, "jti-1").Return(&domain.Credential{
		JTI: "jti-1", UserID: "u1", RevokedAt: &revoked,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}, nil)

	svc := newService(cs, nil, tp, nil)
	_, err := svc.Rotate(context.Background(), "tok")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTokenRevoked))
	cs.AssertNotCalled(t, "Revoke", mock.Anything, mock.Anything, mock.Anything)
}

func TestRotate_ExpiredCredential(t *testing.T) {
	cs := &mockCredentialStore{}
	tp := &mockTokenProvider{}
	tp.On("VerifyRefresh", "tok").Return(refreshClaims("u1", "a@b.com", "jti-1"), nil)
	cs.On("Get", mock.Anything, "jti-1").Return(&domain.Credential{
		JTI: "jti-1", UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}, nil)

	svc := newService(cs, nil, tp, nil)
	_, err := svc.Rotate(context.Background(), "tok")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidToken))
}

func TestRotate_ConcurrentRotationLosesConditionalWrite(t *testing.T) {
	cs := &mockCredentialStore{}
	tp := &mockTokenProvider{}
	tp.On("VerifyRefresh", "tok").Return(refreshClaims("u1", "a@b.com", "jti-1"), nil)
	cs.On("Get", mock.Anything, "jti-1").Return(&domain.Credential{
		JTI: "jti-1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}, nil)
	cs.On("Revoke", mock.Anything, "jti-1", mock.Anything).Return(domain.ErrTokenRevoked)

	svc := newService(cs, nil, tp, nil)
	_, err := svc.Rotate(context.Background(), "tok")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTokenRevoked))
	cs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestRotate_HappyPathRevokesOldAndIssuesNew(t *testing.T) {
	cs := &mockCredentialStore{}
	tp := &mockTokenProvider{}
	tp.On("VerifyRefresh", "old-refresh").Return(refreshClaims("u1", "a@b.com", "jti-old"), nil)
	cs.On("Get", mock.Anything, "jti-old").Return(&domain.Credential{
		JTI: "jti-old", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}, nil)
	cs.On("Revoke", mock.Anything, "jti-old", mock.Anything).Return(nil)
	tp.On("SignAccess", "u1", "a@b.com", mock.Anything).Return("new-access", nil)
	tp.On("SignRefresh", "u1", "a@b.com", mock.Anything).Return("new-refresh", nil)
	cs.On("Put", mock.Anything, mock.MatchedBy(func(c *domain.Credential) bool {
		return c.JTI != "jti-old" && c.UserID == "u1"
	})).Return(nil)

	svc := newService(cs, nil, tp, nil)
	creds, err := svc.Rotate(context.Background(), "old-refresh")

	require.NoError(t, err)
	assert.Equal(t, "new-access", creds.AccessToken)
	assert.Equal(t, "new-refresh", creds.RefreshToken)
	cs.AssertExpectations(t)
}

// --- Logout ---

func TestLogout_RevokesPresentedAndAllActive(t *testing.T) {
	cs := &mockCredentialStore{}
	jti := "jti-presented"
	cs.On("Revoke", mock.Anything, "jti-presented", mock.Anything).Return(nil).Once()
	cs.On("ListActiveByUser", mock.Anything, "u1", mock.Anything).Return([]domain.Credential{
		{JTI: "jti-a", UserID: "u1"},
		{JTI: "jti-b", UserID: "u1"},
	}, nil)
	cs.On("Revoke", mock.Anything, "jti-a", mock.Anything).Return(nil).Once()
	cs.On("Revoke", mock.Anything, "jti-b", mock.Anything).Return(nil).Once()

	svc := newService(cs, nil, nil, nil)
	require.NoError(t, svc.Logout(context.Background(), "u1", &jti))
	cs.AssertExpectations(t)
}

func TestLogout_NoTokenStillRevokesAllActive(t *testing.T) {
	cs := &mockCredentialStore{}
	cs.On("ListActiveByUser", mock.Anything, "u1", mock.Anything).Return([]domain.Credential{
		{JTI: "jti-a", UserID: "u1"},
	}, nil)
	cs.On("Revoke", mock.Anything, "jti-a", mock.Anything).Return(nil).Once()

	svc := newService(cs, nil, nil, nil)
	require.NoError(t, svc.Logout(context.Background(), "u1", nil))
	cs.AssertExpectations(t)
}

func TestLogout_AlreadyRevokedPresentedTokenIsIgnored(t *testing.T) {
	cs := &mockCredentialStore{}
	jti := "jti-presented"
	cs.On("Revoke", mock.Anything, "jti-presented", mock.Anything).Return(domain.ErrTokenRevoked)
	cs.On("ListActiveByUser", mock.Anything, "u1", mock.Anything).Return([]domain.Credential{}, nil)

	svc := newService(cs, nil, nil, nil)
	require.NoError(t, svc.Logout(context.Background(), "u1", &jti))
}

func TestLogout_ReportsFirstRevokeFailure(t *testing.T) {
	cs := &mockCredentialStore{}
	boom := errors.New("dynamo down")
	cs.On("ListActiveByUser", mock.Anything, "u1", mock.Anything).Return([]domain.Credential{
		{JTI: "jti-a", UserID: "u1"},
		{JTI: "jti-b", UserID: "u1"},
	}, nil)
	cs.On("Revoke", mock.Anything, "jti-a", mock.Anything).Return(boom)
	cs.On("Revoke", mock.Anything, "jti-b", mock.Anything).Return(nil)

	svc := newService(cs, nil, nil, nil)
	err := svc.Logout(context.Background(), "u1", nil)

	require.Error(t, err)
	assert.Equal(t, boom, err)
	cs.AssertExpectations(t)
}
