// Package admin hosts the privileged ledger console. Every mutation is
// followed by a re-fetch of both balance and history: the backend may clamp
// or reshape a requested delta, so the console never patches local state
// from a client-predicted value.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fablemind/companion-metering/internal/auth"
	"github.com/fablemind/companion-metering/internal/ledger"
	"github.com/fablemind/companion-metering/internal/models"
)

const defaultHistoryLimit = 50
const exportHistoryLimit = 500

// LedgerAdmin is the privileged slice of the ledger backend.
type LedgerAdmin interface {
	AdminCredits(ctx context.Context, token, uid string) (*ledger.CreditSnapshot, error)
	AdminHistory(ctx context.Context, token, uid string, limit int) ([]models.CreditHistoryEntry, error)
	AdminAddCredits(ctx context.Context, token, uid string, credits int64, reason string) error
	AdminDeductCredits(ctx context.Context, token, uid string, credits int64, reason string) error
	AdminRefreshCredits(ctx context.Context, token, uid string) error
}

// Archiver stores a ledger history export and returns its public URL.
type Archiver interface {
	Archive(ctx context.Context, uid string, data []byte) (string, error)
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	client   LedgerAdmin
	tokens   auth.TokenSource
	archiver Archiver
	router   *chi.Mux
}

// NewServer builds the console. archiver may be nil, which disables the
// export endpoint.
func NewServer(addr, username, password string, log *slog.Logger, client LedgerAdmin, tokens auth.TokenSource, archiver Archiver) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		client:   client,
		tokens:   tokens,
		archiver: archiver,
		router:   r,
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/users/{uid}/credits", func(r chi.Router) {
			r.Get("/", s.handleCredits)
			r.Get("/history", s.handleHistory)
			r.Post("/add", s.handleAdd)
			r.Post("/deduct", s.handleDeduct)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/export", s.handleExport)
		})
	})
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin console listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

type adjustRequest struct {
	Credits int64  `json:"credits"`
	Reason  string `json:"reason"`
}

// ledgerView is the fresh read returned after every mutation.
type ledgerView struct {
	Credits *ledger.CreditSnapshot      `json:"credits"`
	History []models.CreditHistoryEntry `json:"history"`
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	token, err := s.operatorToken(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	snapshot, err := s.client.AdminCredits(r.Context(), token, uid)
	if err != nil {
		s.backendError(w, "fetch credits", uid, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	token, err := s.operatorToken(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	history, err := s.client.AdminHistory(r.Context(), token, uid, limit)
	if err != nil {
		s.backendError(w, "fetch history", uid, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	s.handleAdjust(w, r, "add", s.client.AdminAddCredits)
}

func (s *Server) handleDeduct(w http.ResponseWriter, r *http.Request) {
	s.handleAdjust(w, r, "deduct", s.client.AdminDeductCredits)
}

// handleAdjust validates only that the amount is a positive integer; the
// balance floor and authorization live in the backend.
func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request, op string, mutate func(ctx context.Context, token, uid string, credits int64, reason string) error) {
	uid := chi.URLParam(r, "uid")
	token, err := s.operatorToken(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Credits <= 0 {
		s.writeError(w, http.StatusBadRequest, "credits must be a positive integer")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		s.writeError(w, http.StatusBadRequest, "reason required")
		return
	}

	s.logOperation(r, op, uid, req.Credits, req.Reason)
	if err := mutate(r.Context(), token, uid, req.Credits, req.Reason); err != nil {
		s.backendError(w, op, uid, err)
		return
	}

	view, err := s.refetch(r.Context(), token, uid)
	if err != nil {
		s.backendError(w, op+" re-fetch", uid, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	token, err := s.operatorToken(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	s.logOperation(r, "refresh", uid, 0, "")
	if err := s.client.AdminRefreshCredits(r.Context(), token, uid); err != nil {
		s.backendError(w, "refresh", uid, err)
		return
	}

	view, err := s.refetch(r.Context(), token, uid)
	if err != nil {
		s.backendError(w, "refresh re-fetch", uid, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		s.writeError(w, http.StatusServiceUnavailable, "export storage not configured")
		return
	}
	uid := chi.URLParam(r, "uid")
	token, err := s.operatorToken(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	snapshot, err := s.client.AdminCredits(r.Context(), token, uid)
	if err != nil {
		s.backendError(w, "export fetch credits", uid, err)
		return
	}
	history, err := s.client.AdminHistory(r.Context(), token, uid, exportHistoryLimit)
	if err != nil {
		s.backendError(w, "export fetch history", uid, err)
		return
	}

	chainErr := models.ValidateHistory(history)
	if chainErr != nil {
		s.log.Warn("exported history fails running-sum check", "uid", uid, "err", chainErr)
	}

	payload, err := json.MarshalIndent(map[string]any{
		"uid":        uid,
		"exportedAt": time.Now().UTC(),
		"credits":    snapshot,
		"history":    history,
		"chainValid": chainErr == nil,
	}, "", "  ")
	if err != nil {
		s.internalError(w, err)
		return
	}

	url, err := s.archiver.Archive(r.Context(), uid, payload)
	if err != nil {
		s.log.Error("archive export", "uid", uid, "err", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"entries":    len(history),
		"chainValid": chainErr == nil,
	})
}

// refetch reads balance and history fresh after a mutation.
func (s *Server) refetch(ctx context.Context, token, uid string) (*ledgerView, error) {
	snapshot, err := s.client.AdminCredits(ctx, token, uid)
	if err != nil {
		return nil, err
	}
	history, err := s.client.AdminHistory(ctx, token, uid, defaultHistoryLimit)
	if err != nil {
		return nil, err
	}
	return &ledgerView{Credits: snapshot, History: history}, nil
}

// operatorToken returns the request's own bearer when present, otherwise
// the console's configured credential.
func (s *Server) operatorToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if token := strings.TrimPrefix(header, "Bearer "); token != header && token != "" {
		return token, nil
	}
	token, err := s.tokens.Token(r.Context())
	if err != nil {
		return "", fmt.Errorf("no operator credential: %w", err)
	}
	return token, nil
}

// logOperation records who performed a privileged mutation. Claim parsing is
// display-only; the backend does the real verification.
func (s *Server) logOperation(r *http.Request, op, uid string, credits int64, reason string) {
	operator := s.username
	if header := r.Header.Get("Authorization"); header != "" {
		if token := strings.TrimPrefix(header, "Bearer "); token != header {
			if claims, err := auth.ParseOperatorClaims(token); err == nil && claims.UID != "" {
				operator = claims.UID
			}
		}
	}
	s.log.Info("admin ledger operation", "op", op, "target_uid", uid, "credits", credits, "reason", reason, "operator", operator)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="ledger-console"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// backendError surfaces the backend's message verbatim. These are
// low-frequency, high-stakes operations; silent failure is unacceptable.
func (s *Server) backendError(w http.ResponseWriter, op, uid string, err error) {
	s.log.Error("admin backend call failed", "op", op, "target_uid", uid, "err", err)
	var apiErr *ledger.APIError
	if errors.As(err, &apiErr) {
		s.writeError(w, http.StatusBadGateway, apiErr.Message)
		return
	}
	s.writeError(w, http.StatusBadGateway, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
