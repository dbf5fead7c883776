package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mirelle-dev/authgate-api/internal/models"
	appErrors "github.com/mirelle-dev/authgate-api/pkg/errors"
)

// RejectReason labels why a rotation was refused. Reasons are internal:
// logs, metrics, and tests may distinguish them, clients never can.
type RejectReason string

const (
	RejectMissingCredentials  RejectReason = "missing_credentials"
	RejectNotFoundOrExpired   RejectReason = "not_found_or_expired"
	RejectSecretMismatch      RejectReason = "secret_mismatch"
	RejectFingerprintMismatch RejectReason = "fingerprint_mismatch"
)

// RotationRejectedError is returned for every refresh-path rejection. Call
// sites must handle it as one category; the reason is for the server side.
type RotationRejectedError struct {
	Reason RejectReason
}

func (e *RotationRejectedError) Error() string {
	return "session rotation rejected: " + string(e.Reason)
}

func rejected(reason RejectReason) error {
	return &RotationRejectedError{Reason: reason}
}

type sessionStore interface {
	Insert(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
	Rotate(ctx context.Context, oldID string, next *models.Session) error
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type sessionUserFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// SessionPolicy governs refresh-session lifetime and fingerprint binding.
type SessionPolicy struct {
	RefreshTTL time.Duration
	// BindClientIP controls whether the device IP participates in the
	// fingerprint comparison. User-Agent is always compared. Deployments
	// behind NAT/CGNAT may disable the IP half.
	BindClientIP bool
}

// IssuedSession bundles everything a successful issue/rotate produces. The
// RawSecret is the single-use disclosure; it is never retrievable again.
type IssuedSession struct {
	AccessToken string
	ExpiresAt   time.Time
	Session     *models.Session
	RawSecret   string
}

// SessionService is the session lifecycle manager: it issues sessions on
// login/registration, validates and rotates them on refresh, and revokes
// them on logout or anomaly. All state lives in the store; the service holds
// none between requests.
type SessionService struct {
	store   sessionStore
	users   sessionUserFinder
	codec   *TokenCodec
	policy  SessionPolicy
	logger  *zap.Logger
	metrics *MetricsService
	audit   auditRecorder
}

// NewSessionService constructs a SessionService.
func NewSessionService(store sessionStore, users sessionUserFinder, codec *TokenCodec, policy SessionPolicy, logger *zap.Logger, metrics *MetricsService, audit auditRecorder) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = noopAudit{}
	}
	if policy.RefreshTTL <= 0 {
		policy.RefreshTTL = 30 * 24 * time.Hour
	}
	return &SessionService{
		store:   store,
		users:   users,
		codec:   codec,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		audit:   audit,
	}
}

// Issue creates a fresh session for the user and mints its access token. The
// session row is persisted before anything is handed to the client; a
// persistence failure leaves no client-visible state.
func (s *SessionService) Issue(ctx context.Context, user *models.User, fp models.Fingerprint) (*IssuedSession, error) {
	return s.issue(ctx, user, fp, 0)
}

func (s *SessionService) issue(ctx context.Context, user *models.User, fp models.Fingerprint, refreshCount int) (*IssuedSession, error) {
	rawSecret, err := s.codec.GenerateRefreshSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh secret")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(rawSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash refresh secret")
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:           s.codec.GenerateSessionID(),
		UserID:       user.ID,
		SecretHash:   string(hash),
		DeviceIP:     fp.DeviceIP,
		UserAgent:    fp.UserAgent,
		LastUsedAt:   now,
		RefreshCount: refreshCount,
		ExpiresAt:    now.Add(s.policy.RefreshTTL),
		CreatedAt:    now,
	}

	if err := s.store.Insert(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}

	accessToken, expiresAt, err := s.codec.IssueAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.metrics.IncSessionIssued()

	return &IssuedSession{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		Session:     session,
		RawSecret:   rawSecret,
	}, nil
}

// Rotate validates a refresh attempt and, on success, atomically replaces
// the session with a fresh id and secret. Any rejection burns the session:
// a failed refresh is the strongest observable signal of token theft, so the
// session is invalidated outright rather than merely denying one request.
func (s *SessionService) Rotate(ctx context.Context, sessionID, presentedSecret string, fp models.Fingerprint) (*IssuedSession, error) {
	if sessionID == "" || presentedSecret == "" {
		return nil, s.reject(ctx, sessionID, fp, RejectMissingCredentials)
	}

	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(ctx, sessionID, fp, RejectNotFoundOrExpired)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(session.SecretHash), []byte(presentedSecret)); err != nil {
		return nil, s.reject(ctx, sessionID, fp, RejectSecretMismatch)
	}

	if !s.fingerprintMatches(session, fp) {
		return nil, s.reject(ctx, sessionID, fp, RejectFingerprintMismatch)
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.reject(ctx, sessionID, fp, RejectNotFoundOrExpired)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session user")
	}

	rawSecret, err := s.codec.GenerateRefreshSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh secret")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash refresh secret")
	}

	now := time.Now().UTC()
	next := &models.Session{
		ID:           s.codec.GenerateSessionID(),
		UserID:       session.UserID,
		SecretHash:   string(hash),
		DeviceIP:     session.DeviceIP,
		UserAgent:    session.UserAgent,
		LastUsedAt:   now,
		RefreshCount: session.RefreshCount + 1,
		ExpiresAt:    now.Add(s.policy.RefreshTTL),
		CreatedAt:    now,
	}

	if err := s.store.Rotate(ctx, session.ID, next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost a concurrent rotation race; the winner already replaced
			// the row. Indistinguishable from an absent session.
			return nil, s.reject(ctx, "", fp, RejectNotFoundOrExpired)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate session")
	}

	accessToken, expiresAt, err := s.codec.IssueAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.metrics.IncSessionRotated()
	s.audit.Record(&models.AuditEvent{
		UserID:    &next.UserID,
		Action:    models.AuditActionRefresh,
		SessionID: &next.ID,
		IPAddress: fp.DeviceIP,
		UserAgent: fp.UserAgent,
	})

	return &IssuedSession{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		Session:     next,
		RawSecret:   rawSecret,
	}, nil
}

// Revoke deletes a session. Idempotent: revoking an absent session succeeds.
// A failed delete is logged but never surfaced; the caller clears the
// client-visible credentials regardless.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	if _, err := s.store.DeleteByID(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete session on revoke", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.metrics.IncSessionRevoked()
}

// RevokeAllForUser deletes every session belonging to a user; used after a
// password change.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID string) error {
	deleted, err := s.store.DeleteByUserID(ctx, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke user sessions")
	}
	s.logger.Info("revoked user sessions", zap.String("user_id", userID), zap.Int64("count", deleted))
	return nil
}

// StartSweeper launches the opportunistic expiry sweep. Lazy expiry-on-read
// already guarantees correctness; this only reclaims storage.
func (s *SessionService) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.store.DeleteExpired(ctx)
				if err != nil {
					s.logger.Warn("session sweep failed", zap.Error(err))
					continue
				}
				if deleted > 0 {
					s.logger.Info("swept expired sessions", zap.Int64("count", deleted))
				}
			}
		}
	}()
}

func (s *SessionService) fingerprintMatches(session *models.Session, fp models.Fingerprint) bool {
	if session.UserAgent != fp.UserAgent {
		return false
	}
	if s.policy.BindClientIP && session.DeviceIP != fp.DeviceIP {
		return false
	}
	return true
}

// reject burns the session row (when one was referenced), records the
// internal reason, and returns the single rejection error callers coalesce
// into the uniform client response.
func (s *SessionService) reject(ctx context.Context, sessionID string, fp models.Fingerprint, reason RejectReason) error {
	if sessionID != "" {
		if _, err := s.store.DeleteByID(ctx, sessionID); err != nil {
			s.logger.Warn("failed to delete session on rejection", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	s.logger.Info("refresh rejected", zap.String("reason", string(reason)), zap.String("ip", fp.DeviceIP))
	s.metrics.IncRefreshRejection(string(reason))
	event := &models.AuditEvent{
		Action:    models.AuditActionRefreshRejected,
		Detail:    string(reason),
		IPAddress: fp.DeviceIP,
		UserAgent: fp.UserAgent,
	}
	if sessionID != "" {
		event.SessionID = &sessionID
	}
	s.audit.Record(event)

	return rejected(reason)
}
