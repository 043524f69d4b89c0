package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
)

// Verifier checks HMAC-SHA256 signed bearer tokens of the form
// base64url(claims).base64url(signature). Token issuance happens in the
// identity service; this side only verifies.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

type claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Exp    int64  `json:"exp"`
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) (authdomain.Principal, error) {
	_ = ctx
	parts := strings.SplitN(strings.TrimSpace(token), ".", 2)
	if len(parts) != 2 || len(v.secret) == 0 {
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(parts[0]))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}
	if c.Exp != 0 && v.now().Unix() > c.Exp {
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(c.UserID))
	if err != nil {
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}

	role := authdomain.Role(strings.ToLower(strings.TrimSpace(c.Role)))
	switch role {
	case authdomain.RoleBuyer, authdomain.RoleHelper, authdomain.RoleAdmin:
	default:
		return authdomain.Principal{}, authdomain.ErrInvalidToken
	}

	return authdomain.Principal{UserID: userID, Role: role}, nil
}
