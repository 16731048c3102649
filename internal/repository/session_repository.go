package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fablemind/companion-metering/internal/models"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Find(ctx context.Context, sessionID string) (*models.AnonymousSession, error) {
	const query = `
SELECT session_id, fingerprint, messages_used, story_scenes_created, created_at, last_active
FROM anon_sessions WHERE session_id = ?`
	row := r.db.QueryRowContext(ctx, query, sessionID)
	var s models.AnonymousSession
	if err := row.Scan(&s.SessionID, &s.Fingerprint, &s.MessagesUsed, &s.StoryScenesCreated, &s.CreatedAt, &s.LastActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.AnonymousSession) error {
	const query = `
INSERT INTO anon_sessions (session_id, fingerprint, messages_used, story_scenes_created)
VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, session.SessionID, session.Fingerprint, session.MessagesUsed, session.StoryScenesCreated); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// IncrementMessages bumps the message counter by exactly one and returns the
// new count. The read-modify-write lives in a single UPDATE so concurrent
// clients at worst interleave, never clobber.
func (r *SessionRepository) IncrementMessages(ctx context.Context, sessionID string) (int, error) {
	return r.increment(ctx, sessionID, "messages_used")
}

func (r *SessionRepository) IncrementStoryScenes(ctx context.Context, sessionID string) (int, error) {
	return r.increment(ctx, sessionID, "story_scenes_created")
}

func (r *SessionRepository) increment(ctx context.Context, sessionID, column string) (int, error) {
	query := fmt.Sprintf(`UPDATE anon_sessions SET %s = %s + 1, last_active = NOW() WHERE session_id = ?`, column, column)
	res, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", column, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("increment rows affected: %w", err)
	}
	if affected == 0 {
		return 0, sql.ErrNoRows
	}

	var count int
	selectQuery := fmt.Sprintf(`SELECT %s FROM anon_sessions WHERE session_id = ?`, column)
	if err := r.db.QueryRowContext(ctx, selectQuery, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("read %s: %w", column, err)
	}
	return count, nil
}

// Touch refreshes last_active on a read.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string) error {
	const query = `UPDATE anon_sessions SET last_active = NOW() WHERE session_id = ?`
	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	const query = `DELETE FROM anon_sessions WHERE session_id = ?`
	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
