package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleHelper Role = "helper"
	RoleAdmin  Role = "admin"
)

// Principal is a verified caller identity. Credential parsing and issuance
// live outside this service; orchestrators only ever see the verified result.
type Principal struct {
	UserID snowflake.ID
	Role   Role
}

var ErrInvalidToken = errors.New("invalid_token")

// Verifier turns a bearer token into a Principal or fails with
// ErrInvalidToken. Implementations are interchangeable black boxes.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}
