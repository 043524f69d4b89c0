package domain

import "context"

// OrderRef identifies a provider-side order created before funds move.
type OrderRef struct {
	OrderID  string
	Amount   int64
	Currency string
	Status   string
}

// CaptureResult reports a confirmed capture of authorized funds.
type CaptureResult struct {
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Status            string
}

// RefundRef identifies a provider-side refund.
type RefundRef struct {
	RefundID string
	Amount   int64
	Status   string
}

// Gateway wraps the external payment provider. Every amount crossing this
// boundary is in integer minor currency units; minor↔major conversion
// happens inside implementations and nowhere else. Calls carry bounded
// timeouts; a timed-out call has an unknown outcome and is reconciled by a
// later webhook, never assumed failed. Provider failures surface as
// ErrGateway, which callers treat as retryable.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (OrderRef, error)
	Capture(ctx context.Context, providerPaymentID string, amount int64, currency string) (CaptureResult, error)
	// Refund refunds amount minor units; amount <= 0 means full refund.
	Refund(ctx context.Context, providerPaymentID string, amount int64, reason string) (RefundRef, error)
	// VerifySignature checks an HMAC-SHA256 signature over the raw payload
	// with constant-time comparison. Any computation error reads as "not
	// verified"; it never panics or errors.
	VerifySignature(payload []byte, signature string, secret string) bool
	// ParseWebhook turns a verified callback payload into a canonical
	// provider event, or ErrEventIgnored for event types we do not consume.
	ParseWebhook(payload []byte) (*ProviderEvent, error)
}
