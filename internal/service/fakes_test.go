package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/fablemind/companion-metering/internal/ledger"
	"github.com/fablemind/companion-metering/internal/models"
)

// fakeStore is an in-memory SessionStore.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.AnonymousSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*models.AnonymousSession)}
}

func (f *fakeStore) Find(ctx context.Context, sessionID string) (*models.AnonymousSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) Create(ctx context.Context, session *models.AnonymousSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.SessionID] = &copied
	return nil
}

func (f *fakeStore) IncrementMessages(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	s.MessagesUsed++
	return s.MessagesUsed, nil
}

func (f *fakeStore) IncrementStoryScenes(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	s.StoryScenesCreated++
	return s.StoryScenesCreated, nil
}

func (f *fakeStore) Touch(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

// fakeSyncer records sync-session pushes.
type fakeSyncer struct {
	mu       sync.Mutex
	synced   []models.AnonymousSession
	returned error
}

func (f *fakeSyncer) SyncSession(ctx context.Context, session models.AnonymousSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, session)
	return f.returned
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.synced)
}

func (f *fakeSyncer) last() models.AnonymousSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synced[len(f.synced)-1]
}

// fakeProfileClient records sign-in backend traffic.
type fakeProfileClient struct {
	mu            sync.Mutex
	migrateCalls  int
	migratedSIDs  []string
	syncUserCalls int
	migrateErr    error
	syncUserErr   error
	profile       *models.UserProfile
	profileErr    error
}

func (f *fakeProfileClient) MigrateSession(ctx context.Context, uid, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.migrateCalls++
	f.migratedSIDs = append(f.migratedSIDs, sessionID)
	return f.migrateErr
}

func (f *fakeProfileClient) SyncUser(ctx context.Context, req ledger.SyncUserRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncUserCalls++
	return f.syncUserErr
}

func (f *fakeProfileClient) Profile(ctx context.Context, uid string) (*models.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.profile != nil {
		copied := *f.profile
		return &copied, nil
	}
	return &models.UserProfile{UID: uid, Plan: models.PlanFree}, nil
}
