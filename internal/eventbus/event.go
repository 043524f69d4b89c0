package eventbus

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Routing keys for domain events. Queues bind to one or more of these;
// "task.*" style patterns match a whole prefix.
const (
	EventTaskCreated       = "task.created"
	EventTaskAssigned      = "task.assigned"
	EventTaskStatusChanged = "task.status_changed"
	EventTaskCancelled     = "task.cancelled"
	EventTaskCompleted     = "task.completed"

	EventPaymentCompleted       = "payment.completed"
	EventPaymentFailed          = "payment.failed"
	EventPaymentRefunded        = "payment.refund_processed"
	EventPaymentPayoutProcessed = "payment.payout_processed"
)

// Event is an immutable domain fact. Payloads are flat key-value records;
// optional fields are omitted, never null-filled. Delivery is at-least-once,
// so consumers must be idempotent per event ID.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time
	Fields     map[string]string
}

// New builds an event with a fresh identity. Empty field values are dropped
// so optional fields stay omitted on the wire.
func New(eventType string, fields map[string]string) Event {
	clean := make(map[string]string, len(fields))
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			continue
		}
		clean[k] = v
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Fields:     clean,
	}
}

// Field returns the named payload field, or "" when omitted.
func (e Event) Field(key string) string {
	return e.Fields[key]
}

// Int64Field parses the named field as a base-10 integer; omitted or
// malformed fields read as zero.
func (e Event) Int64Field(key string) int64 {
	v, err := strconv.ParseInt(e.Fields[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// MatchKey reports whether an event type matches a binding key. A key of
// "task.*" matches every event under the "task." prefix.
func MatchKey(eventType, key string) bool {
	if key == eventType {
		return true
	}
	if strings.HasSuffix(key, ".*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(key, "*"))
	}
	return false
}

func matchAny(eventType string, keys []string) bool {
	for _, key := range keys {
		if MatchKey(eventType, key) {
			return true
		}
	}
	return false
}
