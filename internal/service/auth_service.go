package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mirelle-dev/authgate-api/internal/models"
	"github.com/mirelle-dev/authgate-api/internal/repository"
	appErrors "github.com/mirelle-dev/authgate-api/pkg/errors"
)

type credentialStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type sessionIssuer interface {
	Issue(ctx context.Context, user *models.User, fp models.Fingerprint) (*IssuedSession, error)
	RevokeAllForUser(ctx context.Context, userID string) error
}

type tokenDenylist interface {
	Add(ctx context.Context, jti string, ttl time.Duration) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// AuthService authenticates credentials and drives the session lifecycle for
// login, registration, logout, and password changes. It consumes the
// identity store; it does not own it.
type AuthService struct {
	users     credentialStore
	sessions  sessionIssuer
	codec     *TokenCodec
	denylist  tokenDenylist
	validator *validator.Validate
	logger    *zap.Logger
	audit     auditRecorder
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users credentialStore, sessions sessionIssuer, codec *TokenCodec, denylist tokenDenylist, validate *validator.Validate, logger *zap.Logger, audit auditRecorder) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if audit == nil {
		audit = noopAudit{}
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		codec:     codec,
		denylist:  denylist,
		validator: validate,
		logger:    logger,
		audit:     audit,
	}
}

// Login authenticates a user and issues a fresh session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, fp models.Fingerprint) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	issued, err := s.sessions.Issue(ctx, user, fp)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.audit.Record(&models.AuditEvent{
		UserID:    &user.ID,
		Action:    models.AuditActionLogin,
		SessionID: &issued.Session.ID,
		IPAddress: fp.DeviceIP,
		UserAgent: fp.UserAgent,
	})

	return s.authResponse(user, issued), nil
}

// Register creates an account and, like the login path, immediately issues a
// session so a new user lands authenticated.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, fp models.Fingerprint) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	issued, err := s.sessions.Issue(ctx, user, fp)
	if err != nil {
		return nil, err
	}

	s.audit.Record(&models.AuditEvent{
		UserID:    &user.ID,
		Action:    models.AuditActionRegister,
		SessionID: &issued.Session.ID,
		IPAddress: fp.DeviceIP,
		UserAgent: fp.UserAgent,
	})

	return s.authResponse(user, issued), nil
}

// VerifyAccess validates an access token and checks the logout denylist.
// Expired and malformed tokens stay distinguishable internally; both map to
// a single 401 here.
func (s *AuthService) VerifyAccess(ctx context.Context, tokenString string) (*models.AccessClaims, error) {
	claims, err := s.codec.VerifyAccessToken(tokenString)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	if s.denylist != nil && claims.ID != "" {
		revoked, err := s.denylist.Contains(ctx, claims.ID)
		if err != nil {
			// The denylist is defense in depth over stateless tokens; an
			// unavailable store degrades to signature+expiry checks.
			s.logger.Warn("denylist lookup failed", zap.Error(err))
		} else if revoked {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token revoked")
		}
	}

	return claims, nil
}

// Logout revokes the presented access token until its natural expiry. The
// session row itself is deleted by the handler via the lifecycle manager;
// both halves are idempotent.
func (s *AuthService) Logout(ctx context.Context, claims *models.AccessClaims, sessionID string, fp models.Fingerprint) {
	if s.denylist != nil && claims.ID != "" && claims.ExpiresAt != nil {
		ttl := time.Until(claims.ExpiresAt.Time)
		if err := s.denylist.Add(ctx, claims.ID, ttl); err != nil {
			s.logger.Warn("failed to denylist access token", zap.Error(err))
		}
	}

	event := &models.AuditEvent{
		UserID:    &claims.UserID,
		Action:    models.AuditActionLogout,
		IPAddress: fp.DeviceIP,
		UserAgent: fp.UserAgent,
	}
	if sessionID != "" {
		event.SessionID = &sessionID
	}
	s.audit.Record(event)
}

// ChangePassword verifies the old password, stores the new hash, and revokes
// every outstanding session for the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.users.UpdatePassword(ctx, userID, string(newHash), time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change", zap.String("user_id", userID), zap.Error(err))
	}

	s.audit.Record(&models.AuditEvent{
		UserID: &userID,
		Action: models.AuditActionPasswordChange,
	})

	return nil
}

func (s *AuthService) authResponse(user *models.User, issued *IssuedSession) *models.AuthResponse {
	return &models.AuthResponse{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RawSecret,
		SessionID:    issued.Session.ID,
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		IssuedAt:     time.Now().UTC(),
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			Username: user.Username,
			Role:     user.Role,
		},
	}
}
