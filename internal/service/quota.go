package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fablemind/companion-metering/internal/fingerprint"
	"github.com/fablemind/companion-metering/internal/models"
	"github.com/fablemind/companion-metering/internal/notify"
)

var ErrSessionNotFound = errors.New("anonymous session not found")

// SessionStore is the local persistence for anonymous trial sessions.
type SessionStore interface {
	Find(ctx context.Context, sessionID string) (*models.AnonymousSession, error)
	Create(ctx context.Context, session *models.AnonymousSession) error
	IncrementMessages(ctx context.Context, sessionID string) (int, error)
	IncrementStoryScenes(ctx context.Context, sessionID string) (int, error)
	Touch(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

// SessionSyncer pushes session records to the remote anti-abuse endpoint.
type SessionSyncer interface {
	SyncSession(ctx context.Context, session models.AnonymousSession) error
}

// QuotaService tracks an anonymous visitor's trial consumption. The local
// store is authoritative for UX gating only; every change is mirrored to the
// backend best-effort, and the two are allowed to diverge briefly.
type QuotaService struct {
	log      *slog.Logger
	store    SessionStore
	syncer   SessionSyncer
	dispatch *notify.Dispatcher
	resolver *fingerprint.Resolver
}

func NewQuotaService(log *slog.Logger, store SessionStore, syncer SessionSyncer, dispatch *notify.Dispatcher, resolver *fingerprint.Resolver) *QuotaService {
	return &QuotaService{
		log:      log,
		store:    store,
		syncer:   syncer,
		dispatch: dispatch,
		resolver: resolver,
	}
}

// GetSession reads or lazily creates the visitor's session. Reads refresh
// last_active; creation resolves a fingerprint and pushes the new record to
// the backend fire-and-forget.
func (s *QuotaService) GetSession(ctx context.Context, sessionID string, hints fingerprint.Hints) (*models.AnonymousSession, error) {
	if sessionID != "" {
		session, err := s.store.Find(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("find session: %w", err)
		}
		if session != nil {
			if err := s.store.Touch(ctx, sessionID); err != nil {
				s.log.Warn("touch session", "session_id", sessionID, "err", err)
			}
			session.LastActive = time.Now().UTC()
			return session, nil
		}
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	session := &models.AnonymousSession{
		SessionID:   sessionID,
		Fingerprint: s.resolver.Resolve(hints),
		CreatedAt:   now,
		LastActive:  now,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.enqueueSync(*session)
	return session, nil
}

// IncrementMessageCount bumps the message counter and returns the new count.
// The counter is never capped here; it may pass the trial cap by one, and
// gating stays in CanSendMessage.
func (s *QuotaService) IncrementMessageCount(ctx context.Context, sessionID string) (int, error) {
	count, err := s.store.IncrementMessages(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("increment messages: %w", err)
	}
	s.resync(ctx, sessionID)
	return count, nil
}

func (s *QuotaService) IncrementStorySceneCount(ctx context.Context, sessionID string) (int, error) {
	count, err := s.store.IncrementStoryScenes(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSessionNotFound
		}
		return 0, fmt.Errorf("increment story scenes: %w", err)
	}
	s.resync(ctx, sessionID)
	return count, nil
}

// resync mirrors the freshly updated record to the backend. A failed reload
// or push costs only anti-abuse accuracy, so both are swallowed.
func (s *QuotaService) resync(ctx context.Context, sessionID string) {
	session, err := s.store.Find(ctx, sessionID)
	if err != nil || session == nil {
		s.log.Warn("reload session for sync", "session_id", sessionID, "err", err)
		return
	}
	s.enqueueSync(*session)
}

func (s *QuotaService) enqueueSync(session models.AnonymousSession) {
	s.dispatch.Enqueue("sync-session", func(ctx context.Context) error {
		return s.syncer.SyncSession(ctx, session)
	})
}
