package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fablemind/companion-metering/internal/ledger"
	"github.com/fablemind/companion-metering/internal/models"
)

// ProfileClient is the slice of the ledger backend the sign-in transition
// needs.
type ProfileClient interface {
	MigrateSession(ctx context.Context, uid, sessionID string) error
	SyncUser(ctx context.Context, req ledger.SyncUserRequest) error
	Profile(ctx context.Context, uid string) (*models.UserProfile, error)
}

type SignInInput struct {
	UID           string
	Email         string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	SessionID     string
}

type SignInResult struct {
	Profile  *models.UserProfile
	Migrated bool
}

// MigrationService drives the anonymous-to-authenticated transition. The
// transition is attempted at most once per sign-in: whatever the migration
// call does, the local anonymous record is gone afterwards and the client
// never resends. Replay safety for a double-fired sign-in lives server-side.
type MigrationService struct {
	log    *slog.Logger
	store  SessionStore
	client ProfileClient
}

func NewMigrationService(log *slog.Logger, store SessionStore, client ProfileClient) *MigrationService {
	return &MigrationService{
		log:    log,
		store:  store,
		client: client,
	}
}

// SignIn performs the transition for a freshly authenticated user:
// migrate trial usage (only when there is any), retire the local record,
// upsert the account, then fetch the profile. Trial carryover is a courtesy;
// only the profile fetch is allowed to fail the sign-in.
func (s *MigrationService) SignIn(ctx context.Context, in SignInInput) (*SignInResult, error) {
	result := &SignInResult{}

	if in.SessionID != "" {
		result.Migrated = s.migrate(ctx, in.UID, in.SessionID)
	}

	if err := s.client.SyncUser(ctx, ledger.SyncUserRequest{
		UID:           in.UID,
		Email:         in.Email,
		DisplayName:   in.DisplayName,
		PhotoURL:      in.PhotoURL,
		EmailVerified: in.EmailVerified,
	}); err != nil {
		// Upsert is idempotent and will be reattempted on the next
		// sign-in; the profile fetch below decides whether the account
		// actually exists.
		s.log.Error("sync user", "uid", in.UID, "err", err)
	}

	profile, err := s.client.Profile(ctx, in.UID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	result.Profile = profile
	return result, nil
}

// migrate reads the anonymous record, forwards it when it carries usage, and
// clears it regardless of the call's outcome. Returns whether the migration
// endpoint was invoked.
func (s *MigrationService) migrate(ctx context.Context, uid, sessionID string) bool {
	session, err := s.store.Find(ctx, sessionID)
	if err != nil {
		s.log.Warn("read session for migration", "session_id", sessionID, "err", err)
		return false
	}
	if session == nil {
		return false
	}

	attempted := false
	if session.MessagesUsed > 0 {
		attempted = true
		if err := s.client.MigrateSession(ctx, uid, session.SessionID); err != nil {
			s.log.Warn("migrate session", "uid", uid, "session_id", session.SessionID, "err", err)
		}
	}

	if err := s.store.Delete(ctx, session.SessionID); err != nil {
		s.log.Warn("clear migrated session", "session_id", session.SessionID, "err", err)
	}
	return attempted
}
