package domain

import "errors"

var (
	ErrNotFound          = errors.New("task_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConflict          = errors.New("concurrent_update_conflict")
	ErrInvalidRequest    = errors.New("invalid_task_request")
)
