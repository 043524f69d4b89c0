package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
)

// CreateTaskRequest carries the buyer-supplied fields of a new task.
// Amount is in minor currency units.
type CreateTaskRequest struct {
	BuyerID     snowflake.ID
	Title       string
	AmountMinor int64
	Currency    string
	Geohash     string
	ScheduledAt *time.Time
}

// Service is the task orchestrator. All status writes go through the state
// machine; lifecycle events are published only after the mutation commits.
type Service interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error)
	AssignHelper(ctx context.Context, taskID, helperID snowflake.ID) (*Task, error)
	ChangeStatus(ctx context.Context, taskID snowflake.ID, newStatus TaskStatus, actor authdomain.Principal) (*Task, error)
	Cancel(ctx context.Context, taskID snowflake.ID, actor authdomain.Principal, reason string) (*Task, error)
	Get(ctx context.Context, taskID snowflake.ID) (*Task, error)
}
