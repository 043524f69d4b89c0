package domain

import "errors"

var (
	ErrNotFound              = errors.New("payment_not_found")
	ErrInvalidState          = errors.New("invalid_payment_state")
	ErrGateway               = errors.New("gateway_error")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrRefundExceedsCaptured = errors.New("refund_exceeds_captured")
	ErrConflict              = errors.New("concurrent_update_conflict")
)
