// Package domain contains the task aggregate and its status state machine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TaskStatus represents lifecycle states for a task.
type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusMatching   TaskStatus = "MATCHING"
	TaskStatusDispatched TaskStatus = "DISPATCHED"
	TaskStatusAccepted   TaskStatus = "ACCEPTED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// Task is a unit of requested work. Status moves only through the transition
// table; terminal rows are never mutated again and never deleted. Version
// guards concurrent writers: every status write checks it and bumps it.
type Task struct {
	ID           snowflake.ID  `gorm:"primaryKey"`
	BuyerID      snowflake.ID  `gorm:"not null;index"`
	HelperID     *snowflake.ID `gorm:"index"`
	Status       TaskStatus    `gorm:"type:text;not null"`
	Title        string        `gorm:"type:text;not null"`
	AmountMinor  int64         `gorm:"not null"`
	Currency     string        `gorm:"type:text;not null"`
	Geohash      string        `gorm:"type:text;index"`
	ScheduledAt  *time.Time    `gorm:""`
	AssignedAt   *time.Time    `gorm:""`
	CompletedAt  *time.Time    `gorm:""`
	CancelledAt  *time.Time    `gorm:""`
	CancelledBy  *string       `gorm:"type:text"`
	CancelReason *string       `gorm:"type:text"`
	Version      int64         `gorm:"not null;default:0"`
	CreatedAt    time.Time     `gorm:"not null"`
	UpdatedAt    time.Time     `gorm:"not null"`
}

// TableName sets the database table name.
func (Task) TableName() string { return "tasks" }
