// Package auth supplies bearer credentials for calls to the ledger backend.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultRefreshInterval is deliberately shorter than the upstream token's
// validity so every outbound call presents a fresh credential.
const DefaultRefreshInterval = 50 * time.Minute

// TokenSource yields the bearer token to attach to an outbound request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. Used for tests and for
// deployments that inject a long-lived service credential.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("no token configured")
	}
	return s.token, nil
}

// RefreshFunc obtains a fresh bearer token.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshingTokenSource caches a token and renews it on a fixed interval,
// independent of any specific request. A failed renewal keeps serving the
// previous token; it is not retried until the next tick.
type RefreshingTokenSource struct {
	refresh  RefreshFunc
	interval time.Duration
	log      *slog.Logger

	mu    sync.RWMutex
	token string
}

func NewRefreshingTokenSource(refresh RefreshFunc, interval time.Duration, log *slog.Logger) *RefreshingTokenSource {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &RefreshingTokenSource{
		refresh:  refresh,
		interval: interval,
		log:      log,
	}
}

func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	return s.refreshNow(ctx)
}

// Run renews the token immediately and then on every tick until ctx is done.
func (s *RefreshingTokenSource) Run(ctx context.Context) {
	if _, err := s.refreshNow(ctx); err != nil && s.log != nil {
		s.log.Error("initial token refresh failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.refreshNow(ctx); err != nil && s.log != nil {
				s.log.Warn("token refresh failed, keeping previous token", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *RefreshingTokenSource) refreshNow(ctx context.Context) (string, error) {
	token, err := s.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token, nil
}

// FileRefresher reads a token from a file on each refresh. Deployments mount
// a projected credential there and rotate it out of band.
func FileRefresher(path string, read func(string) ([]byte, error)) RefreshFunc {
	return func(ctx context.Context) (string, error) {
		data, err := read(path)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		token := trimToken(data)
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", path)
		}
		return token, nil
	}
}

func trimToken(data []byte) string {
	s := string(data)
	for len(s) > 0 {
		last := s[len(s)-1]
		if last != '\n' && last != '\r' && last != ' ' && last != '\t' {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
