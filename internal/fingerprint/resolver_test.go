package fingerprint

import (
	"strings"
	"testing"
)

func TestResolvePrefersVisitorID(t *testing.T) {
	r := NewResolver(nil)
	got := r.Resolve(Hints{VisitorID: "  fp-abc123  ", UserAgent: "Mozilla/5.0"})
	if got != "fp-abc123" {
		t.Errorf("Resolve = %q, want %q", got, "fp-abc123")
	}
}

func TestResolveFallbackNeverEmpty(t *testing.T) {
	r := NewResolver(nil)
	got := r.Resolve(Hints{})
	if got == "" {
		t.Fatal("Resolve returned empty identifier")
	}
	if !strings.HasPrefix(got, FallbackPrefix) {
		t.Errorf("Resolve = %q, want %q prefix", got, FallbackPrefix)
	}
}

func TestResolveFallbackDeterministic(t *testing.T) {
	r := NewResolver(nil)
	hints := Hints{UserAgent: "Mozilla/5.0", ScreenWidth: 1920, ScreenHeight: 1080, ColorDepth: 24}
	first := r.Resolve(hints)
	second := r.Resolve(hints)
	if first != second {
		t.Errorf("same hints resolved differently: %q vs %q", first, second)
	}

	other := r.Resolve(Hints{UserAgent: "Mozilla/5.0", ScreenWidth: 1280, ScreenHeight: 720, ColorDepth: 24})
	if other == first {
		t.Errorf("different geometry produced identical identifier %q", first)
	}
}
