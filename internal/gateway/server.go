// Package gateway is the browser-facing HTTP surface: trial gating for
// anonymous visitors, the sign-in transition, and the credit display
// projection for authenticated accounts.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fablemind/companion-metering/internal/fingerprint"
	"github.com/fablemind/companion-metering/internal/models"
	"github.com/fablemind/companion-metering/internal/service"
)

// ProfileReader fetches the authoritative account profile.
type ProfileReader interface {
	Profile(ctx context.Context, uid string) (*models.UserProfile, error)
}

type Server struct {
	addr       string
	log        *slog.Logger
	quota      *service.QuotaService
	migrations *service.MigrationService
	profiles   ProfileReader
	router     *chi.Mux
}

func NewServer(addr string, allowedOrigins []string, log *slog.Logger, quota *service.QuotaService, migrations *service.MigrationService, profiles ProfileReader) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-Session"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		addr:       addr,
		log:        log,
		quota:      quota,
		migrations: migrations,
		profiles:   profiles,
		router:     r,
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/trial/session", s.handleTrialSession)
		r.Post("/trial/messages", s.handleTrialMessage)
		r.Post("/trial/scenes", s.handleTrialScene)
		r.Get("/trial/remaining", s.handleTrialRemaining)
		r.Post("/auth/signin", s.handleSignIn)
		r.Get("/credits/summary", s.handleCreditSummary)
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
			s.log.Error("gateway shutdown error", "err", err)
		}
	}()

	s.log.Info("gateway listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return nil
}

type trialSessionRequest struct {
	SessionID string `json:"sessionId"`
	fingerprint.Hints
}

type trialStatusResponse struct {
	Session              *models.AnonymousSession `json:"session,omitempty"`
	SessionID            string                   `json:"sessionId"`
	MessagesUsed         int                      `json:"messagesUsed"`
	StoryScenesCreated   int                      `json:"storyScenesCreated"`
	RemainingMessages    int                      `json:"remainingMessages"`
	RemainingStoryScenes int                      `json:"remainingStoryScenes"`
	CanSendMessage       bool                     `json:"canSendMessage"`
	CanCreateStory       bool                     `json:"canCreateStory"`
}

func trialStatus(session *models.AnonymousSession, includeSession bool) trialStatusResponse {
	resp := trialStatusResponse{
		SessionID:            session.SessionID,
		MessagesUsed:         session.MessagesUsed,
		StoryScenesCreated:   session.StoryScenesCreated,
		RemainingMessages:    session.RemainingMessages(),
		RemainingStoryScenes: session.RemainingStoryScenes(),
		CanSendMessage:       session.CanSendMessage(),
		CanCreateStory:       session.CanCreateStory(),
	}
	if includeSession {
		resp.Session = session
	}
	return resp
}

func (s *Server) handleTrialSession(w http.ResponseWriter, r *http.Request) {
	var req trialSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Device-Session")
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	session, err := s.quota.GetSession(r.Context(), req.SessionID, req.Hints)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trialStatus(session, true))
}

func (s *Server) handleTrialMessage(w http.ResponseWriter, r *http.Request) {
	s.handleTrialIncrement(w, r, func(ctx context.Context, sessionID string) (int, error) {
		return s.quota.IncrementMessageCount(ctx, sessionID)
	}, func(session *models.AnonymousSession) bool {
		return session.CanSendMessage()
	})
}

func (s *Server) handleTrialScene(w http.ResponseWriter, r *http.Request) {
	s.handleTrialIncrement(w, r, func(ctx context.Context, sessionID string) (int, error) {
		return s.quota.IncrementStorySceneCount(ctx, sessionID)
	}, func(session *models.AnonymousSession) bool {
		return session.CanCreateStory()
	})
}

// handleTrialIncrement gates on the local counters, then increments. The gate
// is a pure read of local state; no network round-trip sits on this path.
func (s *Server) handleTrialIncrement(w http.ResponseWriter, r *http.Request, increment func(context.Context, string) (int, error), allowed func(*models.AnonymousSession) bool) {
	var req trialSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Device-Session")
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	session, err := s.quota.GetSession(r.Context(), req.SessionID, req.Hints)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !allowed(session) {
		s.writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":  "trial_exhausted",
			"status": trialStatus(session, false),
		})
		return
	}

	if _, err := increment(r.Context(), session.SessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.internalError(w, err)
		return
	}

	updated, err := s.quota.GetSession(r.Context(), session.SessionID, req.Hints)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trialStatus(updated, false))
}

func (s *Server) handleTrialRemaining(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.Header.Get("X-Device-Session")
	}
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId required")
		return
	}

	session, err := s.quota.GetSession(r.Context(), sessionID, fingerprint.Hints{UserAgent: r.UserAgent()})
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trialStatus(session, false))
}

type signInRequest struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL"`
	EmailVerified bool   `json:"emailVerified"`
	SessionID     string `json:"sessionId"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.UID) == "" {
		s.writeError(w, http.StatusBadRequest, "uid required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Device-Session")
	}

	result, err := s.migrations.SignIn(r.Context(), service.SignInInput{
		UID:           req.UID,
		Email:         req.Email,
		DisplayName:   req.DisplayName,
		PhotoURL:      req.PhotoURL,
		EmailVerified: req.EmailVerified,
		SessionID:     req.SessionID,
	})
	if err != nil {
		// A missing profile read mis-gates paid features; this one is
		// surfaced, unlike the advisory migration steps.
		s.log.Error("sign-in", "uid", req.UID, "err", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"profile":  result.Profile,
		"migrated": result.Migrated,
	})
}

func (s *Server) handleCreditSummary(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		s.writeError(w, http.StatusBadRequest, "uid required")
		return
	}

	profile, err := s.profiles.Profile(r.Context(), uid)
	if err != nil {
		s.log.Error("credit summary fetch", "uid", uid, "err", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	summary := service.SummarizeCredits(profile)
	if summary == nil {
		// Free and fixed-quota tiers render no credit component at all.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
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
	s.log.Error("gateway handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
