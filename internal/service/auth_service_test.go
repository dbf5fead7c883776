package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mirelle-dev/authgate-api/internal/models"
	"github.com/mirelle-dev/authgate-api/internal/repository"
	appErrors "github.com/mirelle-dev/authgate-api/pkg/errors"
)

type mockCredentialStore struct {
	byEmail      map[string]models.User
	byID         map[string]models.User
	createErr    error
	created      []models.User
	passwordHash string
	lastLoginSet bool
}

func (m *mockCredentialStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (m *mockCredentialStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (m *mockCredentialStore) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if user.ID == "" {
		user.ID = "generated"
	}
	m.created = append(m.created, *user)
	return nil
}

func (m *mockCredentialStore) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.passwordHash = passwordHash
	return nil
}

func (m *mockCredentialStore) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginSet = true
	return nil
}

type mockIssuer struct {
	codec       *TokenCodec
	issued      int
	revokedUser string
}

func (m *mockIssuer) Issue(ctx context.Context, user *models.User, fp models.Fingerprint) (*IssuedSession, error) {
	m.issued++
	token, expiresAt, err := m.codec.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	return &IssuedSession{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Session:     &models.Session{ID: "s1", UserID: user.ID},
		RawSecret:   "raw-secret",
	}, nil
}

func (m *mockIssuer) RevokeAllForUser(ctx context.Context, userID string) error {
	m.revokedUser = userID
	return nil
}

type mockDenylist struct {
	entries map[string]time.Duration
	err     error
}

func (m *mockDenylist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if m.entries == nil {
		m.entries = make(map[string]time.Duration)
	}
	m.entries[jti] = ttl
	return nil
}

func (m *mockDenylist) Contains(ctx context.Context, jti string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.entries[jti]
	return ok, nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(t *testing.T, users *mockCredentialStore, denylist *mockDenylist) (*AuthService, *mockIssuer) {
	t.Helper()
	codec := testCodec(t)
	issuer := &mockIssuer{codec: codec}
	var svc *AuthService
	if denylist != nil {
		svc = NewAuthService(users, issuer, codec, denylist, validator.New(), zap.NewNop(), nil)
	} else {
		svc = NewAuthService(users, issuer, codec, nil, validator.New(), zap.NewNop(), nil)
	}
	return svc, issuer
}

func TestAuthServiceLogin(t *testing.T) {
	users := &mockCredentialStore{byEmail: map[string]models.User{
		"user@example.com": {ID: "u1", Email: "user@example.com", Username: "user", PasswordHash: hashPassword(t, "password123"), Role: models.RoleUser},
	}}
	svc, issuer := newTestAuthService(t, users, nil)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password123"}, testFingerprint())
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "raw-secret", res.RefreshToken)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, 1, issuer.issued)
	assert.True(t, users.lastLoginSet)
}

func TestAuthServiceLoginUniformFailure(t *testing.T) {
	users := &mockCredentialStore{byEmail: map[string]models.User{
		"user@example.com": {ID: "u1", Email: "user@example.com", PasswordHash: hashPassword(t, "password123")},
	}}
	svc, issuer := newTestAuthService(t, users, nil)

	// Unknown email and wrong password must be indistinguishable.
	_, unknownErr := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password123"}, testFingerprint())
	_, wrongErr := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong-password"}, testFingerprint())

	unknown := appErrors.FromError(unknownErr)
	wrong := appErrors.FromError(wrongErr)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Message, wrong.Message)
	assert.Equal(t, unknown.Status, wrong.Status)
	assert.Equal(t, 0, issuer.issued)
}

func TestAuthServiceRegister(t *testing.T) {
	users := &mockCredentialStore{}
	svc, issuer := newTestAuthService(t, users, nil)

	res, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "new@example.com",
		Username: "newuser",
		Password: "password123",
	}, testFingerprint())
	require.NoError(t, err)

	require.Len(t, users.created, 1)
	assert.Equal(t, models.RoleUser, users.created[0].Role)
	assert.NotEqual(t, "password123", users.created[0].PasswordHash)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, 1, issuer.issued)
}

func TestAuthServiceRegisterDuplicate(t *testing.T) {
	users := &mockCredentialStore{createErr: repository.ErrDuplicate}
	svc, _ := newTestAuthService(t, users, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "taken@example.com",
		Username: "taken",
		Password: "password123",
	}, testFingerprint())

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestAuthServiceRegisterValidation(t *testing.T) {
	svc, issuer := newTestAuthService(t, &mockCredentialStore{}, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "bad-email",
		Username: "ab",
		Password: "short",
	}, testFingerprint())

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, 0, issuer.issued)
}

func TestAuthServiceVerifyAccess(t *testing.T) {
	svc, _ := newTestAuthService(t, &mockCredentialStore{}, &mockDenylist{})

	token, _, err := svc.codec.IssueAccessToken(&models.User{ID: "u1", Email: "user@example.com"})
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestAuthServiceVerifyAccessRevoked(t *testing.T) {
	denylist := &mockDenylist{}
	svc, _ := newTestAuthService(t, &mockCredentialStore{}, denylist)

	token, _, err := svc.codec.IssueAccessToken(&models.User{ID: "u1"})
	require.NoError(t, err)
	claims, err := svc.codec.VerifyAccessToken(token)
	require.NoError(t, err)

	require.NoError(t, denylist.Add(context.Background(), claims.ID, time.Minute))

	_, err = svc.VerifyAccess(context.Background(), token)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceVerifyAccessDenylistDown(t *testing.T) {
	denylist := &mockDenylist{err: errors.New("redis down")}
	svc, _ := newTestAuthService(t, &mockCredentialStore{}, denylist)

	token, _, err := svc.codec.IssueAccessToken(&models.User{ID: "u1"})
	require.NoError(t, err)

	// An unavailable denylist degrades, it does not lock users out.
	claims, err := svc.VerifyAccess(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestAuthServiceLogout(t *testing.T) {
	denylist := &mockDenylist{}
	svc, _ := newTestAuthService(t, &mockCredentialStore{}, denylist)

	token, _, err := svc.codec.IssueAccessToken(&models.User{ID: "u1"})
	require.NoError(t, err)
	claims, err := svc.codec.VerifyAccessToken(token)
	require.NoError(t, err)

	svc.Logout(context.Background(), claims, "s1", testFingerprint())

	ttl, ok := denylist.entries[claims.ID]
	require.True(t, ok)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 15*time.Minute)
}

func TestAuthServiceChangePassword(t *testing.T) {
	users := &mockCredentialStore{byID: map[string]models.User{
		"u1": {ID: "u1", Email: "user@example.com", PasswordHash: hashPassword(t, "old-password")},
	}}
	svc, issuer := newTestAuthService(t, users, nil)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "old-password",
		NewPassword: "new-password",
	})
	require.NoError(t, err)

	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(users.passwordHash), []byte("new-password")))
	assert.Equal(t, "u1", issuer.revokedUser)
}

func TestAuthServiceChangePasswordWrongOld(t *testing.T) {
	users := &mockCredentialStore{byID: map[string]models.User{
		"u1": {ID: "u1", PasswordHash: hashPassword(t, "old-password")},
	}}
	svc, issuer := newTestAuthService(t, users, nil)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "not-the-old-password",
		NewPassword: "new-password",
	})

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.Empty(t, users.passwordHash)
	assert.Empty(t, issuer.revokedUser)
}
