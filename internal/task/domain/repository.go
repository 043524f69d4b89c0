package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// StatusUpdate is one guarded status write. From and Version are the
// optimistic predicates: zero rows affected means another writer won.
type StatusUpdate struct {
	TaskID      snowflake.ID
	From        TaskStatus
	To          TaskStatus
	Version     int64
	HelperID    *snowflake.ID
	CancelledBy *string
	Reason      *string
	Now         time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, task *Task) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Task, error)
	TransitionStatus(ctx context.Context, db *gorm.DB, update StatusUpdate) (bool, error)
}
