package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
)

func issue(t *testing.T, secret, userID, role string, exp int64) string {
	t.Helper()
	payload := fmt.Sprintf(`{"user_id":%q,"role":%q,"exp":%d}`, userID, role, exp)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return encoded + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret-1")
	token := issue(t, "secret-1", "1234567890", "buyer", 0)

	principal, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.UserID.String() != "1234567890" {
		t.Errorf("user id = %s", principal.UserID)
	}
	if principal.Role != authdomain.RoleBuyer {
		t.Errorf("role = %s", principal.Role)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	v := NewVerifier("secret-1")
	buyer := issue(t, "secret-1", "1234567890", "buyer", 0)
	admin := issue(t, "secret-1", "1234567890", "admin", 0)

	// Admin claims stitched onto the buyer signature.
	forged := admin[:strings.Index(admin, ".")] + buyer[strings.Index(buyer, "."):]

	if _, err := v.Verify(context.Background(), forged); !errors.Is(err, authdomain.ErrInvalidToken) {
		t.Fatalf("forged token: err = %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier("secret-1")
	token := issue(t, "secret-2", "1234567890", "buyer", 0)

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, authdomain.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier("secret-1")
	expired := issue(t, "secret-1", "1234567890", "helper", time.Now().Add(-time.Hour).Unix())

	if _, err := v.Verify(context.Background(), expired); !errors.Is(err, authdomain.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}

	fresh := issue(t, "secret-1", "1234567890", "helper", time.Now().Add(time.Hour).Unix())
	if _, err := v.Verify(context.Background(), fresh); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	v := NewVerifier("secret-1")
	token := issue(t, "secret-1", "1234567890", "superuser", 0)

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, authdomain.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	v := NewVerifier("secret-1")
	for _, token := range []string{"", "no-dot", "a.b", "!!.!!"} {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, authdomain.ErrInvalidToken) {
			t.Errorf("token %q: err = %v", token, err)
		}
	}
}
