package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mirelle-dev/authgate-api/internal/models"
)

// SessionRepository is the durable store of outstanding refresh sessions,
// one row per live refresh capability.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, secret_hash, device_ip, user_agent, last_used_at, refresh_count, expires_at, created_at`

// Insert persists a new session row. A duplicate id or storage failure is
// surfaced to the caller; nothing is retried here.
func (r *SessionRepository) Insert(ctx context.Context, session *models.Session) error {
	const query = `INSERT INTO sessions (id, user_id, secret_hash, device_ip, user_agent, last_used_at, refresh_count, expires_at, created_at)
		VALUES (:id, :user_id, :secret_hash, :device_ip, :user_agent, :last_used_at, :refresh_count, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByID returns a live session by id. Rows past expires_at are filtered
// out so an expired session is indistinguishable from an absent one.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 AND expires_at > NOW() LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

// DeleteByID removes a session. Deleting a nonexistent id is not an error;
// the returned count simply reports zero effect.
func (r *SessionRepository) DeleteByID(ctx context.Context, id string) (int64, error) {
	const query = `DELETE FROM sessions WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session rows affected: %w", err)
	}
	return deleted, nil
}

// Rotate atomically replaces oldID with next inside one transaction. The
// delete is the exclusivity guard: of two concurrent rotations of the same
// id, exactly one sees a deleted row; the loser gets sql.ErrNoRows.
func (r *SessionRepository) Rotate(ctx context.Context, oldID string, next *models.Session) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rotate session begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1 AND expires_at > NOW()`, oldID)
	if err != nil {
		return fmt.Errorf("rotate session delete: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate session rows affected: %w", err)
	}
	if deleted == 0 {
		return sql.ErrNoRows
	}

	const insert = `INSERT INTO sessions (id, user_id, secret_hash, device_ip, user_agent, last_used_at, refresh_count, expires_at, created_at)
		VALUES (:id, :user_id, :secret_hash, :device_ip, :user_agent, :last_used_at, :refresh_count, :expires_at, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, next); err != nil {
		return fmt.Errorf("rotate session insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rotate session commit: %w", err)
	}
	return nil
}

// DeleteByUserID removes every session belonging to a user.
func (r *SessionRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	const query = `DELETE FROM sessions WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions by user: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sessions by user rows affected: %w", err)
	}
	return deleted, nil
}

// DeleteExpired removes rows past their expiry. Correctness does not depend
// on this; FindByID already treats expired rows as absent.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at <= NOW()`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows affected: %w", err)
	}
	return deleted, nil
}
