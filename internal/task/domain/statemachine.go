package domain

import "fmt"

// transitions is the single source of truth for legal status moves.
// Terminal states carry an empty set.
var transitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusCreated:    {TaskStatusMatching: {}, TaskStatusCancelled: {}},
	TaskStatusMatching:   {TaskStatusDispatched: {}, TaskStatusCreated: {}, TaskStatusCancelled: {}},
	TaskStatusDispatched: {TaskStatusAccepted: {}, TaskStatusMatching: {}, TaskStatusCancelled: {}},
	TaskStatusAccepted:   {TaskStatusInProgress: {}, TaskStatusCancelled: {}},
	TaskStatusInProgress: {TaskStatusCompleted: {}, TaskStatusCancelled: {}},
	TaskStatusCompleted:  {},
	TaskStatusCancelled:  {},
}

// CanTransition reports whether from → to is a legal move. It is total over
// status values: unknown or empty statuses are never transitionable.
func CanTransition(from, to TaskStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// ValidateTransition is the single gate every status write passes through.
func ValidateTransition(from, to TaskStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status TaskStatus) bool {
	allowed, ok := transitions[status]
	return ok && len(allowed) == 0
}

// CanCancel reports whether a task in this status may still be cancelled.
func CanCancel(status TaskStatus) bool {
	return CanTransition(status, TaskStatusCancelled)
}

// CanModify reports whether task fields other than status may change.
// Only pre-dispatch tasks are editable.
func CanModify(status TaskStatus) bool {
	return status == TaskStatusCreated || status == TaskStatusMatching
}

// Statuses lists every known status, for exhaustive table tests.
func Statuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusCreated,
		TaskStatusMatching,
		TaskStatusDispatched,
		TaskStatusAccepted,
		TaskStatusInProgress,
		TaskStatusCompleted,
		TaskStatusCancelled,
	}
}
