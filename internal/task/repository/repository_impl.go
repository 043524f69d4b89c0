package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/sahayak-app/sahayak/internal/task/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, task *domain.Task) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tasks (
			id, buyer_id, helper_id, status, title, amount_minor, currency,
			geohash, scheduled_at, assigned_at, completed_at, cancelled_at,
			cancelled_by, cancel_reason, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.BuyerID,
		task.HelperID,
		task.Status,
		task.Title,
		task.AmountMinor,
		task.Currency,
		task.Geohash,
		task.ScheduledAt,
		task.AssignedAt,
		task.CompletedAt,
		task.CancelledAt,
		task.CancelledBy,
		task.CancelReason,
		task.Version,
		task.CreatedAt,
		task.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Task, error) {
	var item domain.Task
	err := db.WithContext(ctx).Raw(
		`SELECT id, buyer_id, helper_id, status, title, amount_minor, currency,
			geohash, scheduled_at, assigned_at, completed_at, cancelled_at,
			cancelled_by, cancel_reason, version, created_at, updated_at
		 FROM tasks
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// TransitionStatus performs one guarded status write. The WHERE predicates on
// status and version serialize concurrent writers: the loser affects zero
// rows and must re-read.
func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, update domain.StatusUpdate) (bool, error) {
	set := []string{"status = ?", "version = version + 1", "updated_at = ?"}
	args := []any{update.To, update.Now}

	switch update.To {
	case domain.TaskStatusAccepted:
		set = append(set, "helper_id = ?", "assigned_at = COALESCE(assigned_at, ?)")
		args = append(args, update.HelperID, update.Now)
	case domain.TaskStatusCompleted:
		set = append(set, "completed_at = COALESCE(completed_at, ?)")
		args = append(args, update.Now)
	case domain.TaskStatusCancelled:
		set = append(set, "cancelled_at = COALESCE(cancelled_at, ?)", "cancelled_by = ?", "cancel_reason = ?")
		args = append(args, update.Now, update.CancelledBy, update.Reason)
	}

	args = append(args, update.TaskID, update.From, update.Version)
	result := db.WithContext(ctx).Exec(
		`UPDATE tasks SET `+strings.Join(set, ", ")+`
		 WHERE id = ? AND status = ? AND version = ?`,
		args...,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
