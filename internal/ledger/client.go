// Package ledger is the HTTP client for the remote ledger/auth backend. The
// backend owns the authoritative credit ledger; this client never predicts
// balances, it only reads and requests mutations.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fablemind/companion-metering/internal/auth"
	"github.com/fablemind/companion-metering/internal/config"
	"github.com/fablemind/companion-metering/internal/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
	log        *slog.Logger
}

func NewClient(cfg config.Config, tokens auth.TokenSource, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.LedgerBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens: tokens,
		log:    log,
	}
}

// APIError carries the backend's status and verbatim error message. Mutation
// failures are surfaced to the admin operator with Message untouched.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger backend: status=%d message=%s", e.Status, e.Message)
}

// SyncSession pushes an anonymous session record to the anti-abuse endpoint.
// The response carries no contract; callers treat this as advisory.
func (c *Client) SyncSession(ctx context.Context, session models.AnonymousSession) error {
	return c.do(ctx, http.MethodPost, "/api/auth/sync-session", nil, "", session, nil)
}

// MigrateSession transfers anonymous trial usage onto an account. Best-effort;
// the backend is responsible for making replays idempotent.
func (c *Client) MigrateSession(ctx context.Context, uid, sessionID string) error {
	body := map[string]string{"uid": uid, "sessionId": sessionID}
	return c.do(ctx, http.MethodPost, "/api/auth/migrate-session", nil, "", body, nil)
}

type SyncUserRequest struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL"`
	EmailVerified bool   `json:"emailVerified"`
}

// SyncUser upserts the account record. The endpoint is idempotent.
func (c *Client) SyncUser(ctx context.Context, req SyncUserRequest) error {
	return c.do(ctx, http.MethodPost, "/api/auth/sync-user", nil, "", req, nil)
}

// Profile fetches the account's profile including credit fields.
func (c *Client) Profile(ctx context.Context, uid string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/auth/profile/"+url.PathEscape(uid), nil, "", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CreditSnapshot is the admin read of an account's balance.
type CreditSnapshot struct {
	Balance     int64       `json:"balance"`
	BalanceUSD  string      `json:"balanceUSD"`
	Plan        models.Plan `json:"plan"`
	LastRefresh time.Time   `json:"lastRefresh"`
}

func (c *Client) AdminCredits(ctx context.Context, token, uid string) (*CreditSnapshot, error) {
	var snapshot CreditSnapshot
	if err := c.do(ctx, http.MethodGet, c.adminPath(uid, ""), nil, token, nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *Client) AdminHistory(ctx context.Context, token, uid string, limit int) ([]models.CreditHistoryEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		History []models.CreditHistoryEntry `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, c.adminPath(uid, "/history"), query, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

type adjustRequest struct {
	Credits int64  `json:"credits"`
	Reason  string `json:"reason"`
}

// AdminAddCredits grants credits to an account. The backend appends the
// ledger entry; the caller must re-fetch rather than patch local state.
func (c *Client) AdminAddCredits(ctx context.Context, token, uid string, credits int64, reason string) error {
	return c.do(ctx, http.MethodPost, c.adminPath(uid, "/add"), nil, token, adjustRequest{Credits: credits, Reason: reason}, nil)
}

// AdminDeductCredits removes credits. The backend clamps the deduction to the
// available balance, so the re-fetched balance may differ from the requested
// delta.
func (c *Client) AdminDeductCredits(ctx context.Context, token, uid string, credits int64, reason string) error {
	return c.do(ctx, http.MethodPost, c.adminPath(uid, "/deduct"), nil, token, adjustRequest{Credits: credits, Reason: reason}, nil)
}

// AdminRefreshCredits forces a rollover-and-grant cycle out of schedule. The
// backend may refuse with a structured error ("already refreshed this cycle").
func (c *Client) AdminRefreshCredits(ctx context.Context, token, uid string) error {
	return c.do(ctx, http.MethodPost, c.adminPath(uid, "/refresh"), nil, token, nil, nil)
}

func (c *Client) adminPath(uid, suffix string) string {
	return "/api/admin/users/" + url.PathEscape(uid) + "/credits" + suffix
}

// do issues one request. An empty token means "use the client's own token
// source"; admin calls pass the operator credential explicitly. No call is
// ever retried here.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if token == "" {
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("bearer token: %w", err)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: backendMessage(rawBody)}
		if c.log != nil {
			c.log.Error("ledger request failed", "method", method, "path", path, "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(rawBody, out); err != nil {
			return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
		}
	}
	return nil
}

// backendMessage extracts the structured {error} body when present.
func backendMessage(body []byte) string {
	var structured struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil && structured.Error != "" {
		return structured.Error
	}
	return truncateBody(body)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
