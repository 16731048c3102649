// Package fingerprint derives a stable anonymous identifier for an
// unauthenticated visitor from whatever device material the browser reported.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// FallbackPrefix marks identifiers produced without a client-side
// fingerprinting result, so the backend can down-weight their trust.
const FallbackPrefix = "fallback-"

// Hints carries the device material a client reported alongside a request.
// VisitorID is the fingerprinting library's result when the script ran;
// the remaining fields feed the degraded path.
type Hints struct {
	VisitorID    string `json:"visitorId"`
	UserAgent    string `json:"userAgent"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	ColorDepth   int    `json:"colorDepth"`
}

type Resolver struct {
	log *slog.Logger
}

func NewResolver(log *slog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve always returns a non-empty identifier. The library-computed visitor
// id wins when present; otherwise a low-entropy composite of user agent and
// screen geometry is hashed and prefixed so the backend knows it is degraded.
// Resolve never fails: quota enforcement must degrade rather than crash.
func (r *Resolver) Resolve(hints Hints) string {
	if id := strings.TrimSpace(hints.VisitorID); id != "" {
		return id
	}

	composite := fmt.Sprintf("%s|%dx%d|%d",
		strings.TrimSpace(hints.UserAgent), hints.ScreenWidth, hints.ScreenHeight, hints.ColorDepth)
	sum := sha256.Sum256([]byte(composite))

	if r.log != nil {
		r.log.Debug("fingerprint degraded to composite", "user_agent_present", hints.UserAgent != "")
	}
	return FallbackPrefix + hex.EncodeToString(sum[:8])
}
