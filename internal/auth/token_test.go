package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestStaticTokenSource(t *testing.T) {
	src := NewStaticTokenSource("abc")
	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "abc" {
		t.Errorf("token = %q, want %q", token, "abc")
	}

	empty := NewStaticTokenSource("")
	if _, err := empty.Token(context.Background()); err == nil {
		t.Error("empty source should error")
	}
}

func TestRefreshingTokenSourceLazyFetch(t *testing.T) {
	calls := 0
	src := NewRefreshingTokenSource(func(ctx context.Context) (string, error) {
		calls++
		return "token-1", nil
	}, time.Hour, nil)

	for i := 0; i < 3; i++ {
		token, err := src.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if token != "token-1" {
			t.Errorf("token = %q, want %q", token, "token-1")
		}
	}
	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1 (cached after first use)", calls)
	}
}

func TestRefreshingTokenSourceKeepsOldOnFailure(t *testing.T) {
	calls := 0
	src := NewRefreshingTokenSource(func(ctx context.Context) (string, error) {
		calls++
		if calls > 1 {
			return "", errors.New("upstream down")
		}
		return "token-1", nil
	}, time.Hour, nil)

	if _, err := src.refreshNow(context.Background()); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if _, err := src.refreshNow(context.Background()); err == nil {
		t.Fatal("second refresh should fail")
	}

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "token-1" {
		t.Errorf("token = %q, want previous token preserved", token)
	}
}

func TestFileRefresher(t *testing.T) {
	refresh := FileRefresher("/run/secrets/token", func(string) ([]byte, error) {
		return []byte("file-token\n"), nil
	})
	token, err := refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if token != "file-token" {
		t.Errorf("token = %q, want trimmed %q", token, "file-token")
	}

	empty := FileRefresher("/run/secrets/token", func(string) ([]byte, error) {
		return []byte("  \n"), nil
	})
	if _, err := empty(context.Background()); err == nil {
		t.Error("whitespace-only token file should error")
	}
}

func TestParseOperatorClaims(t *testing.T) {
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "op-1",
		"email": "ops@example.com",
		"admin": true,
	})
	signed, err := raw.SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := ParseOperatorClaims(signed)
	if err != nil {
		t.Fatalf("ParseOperatorClaims failed: %v", err)
	}
	if claims.UID != "op-1" {
		t.Errorf("UID = %q, want op-1", claims.UID)
	}
	if claims.Email != "ops@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if !claims.Admin {
		t.Error("Admin = false, want true")
	}

	if _, err := ParseOperatorClaims("not-a-jwt"); err == nil {
		t.Error("garbage token should error")
	}
}
