// Package razorpay adapts the Razorpay REST API to the payment gateway port.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sahayak-app/sahayak/internal/config"
	obsmetrics "github.com/sahayak-app/sahayak/internal/observability/metrics"
	"github.com/sahayak-app/sahayak/internal/payment/domain"
	"go.uber.org/zap"
)

// Gateway talks to Razorpay. Amounts cross this boundary in minor units
// (paise), which is also Razorpay's native unit; major-unit rendering is
// confined to display fields built here.
type Gateway struct {
	cfg    config.GatewayConfig
	client *http.Client
	log    *zap.Logger
	obs    *obsmetrics.Metrics
}

func New(cfg config.GatewayConfig, log *zap.Logger, obs *obsmetrics.Metrics) *Gateway {
	return &Gateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		log: log.Named("payment.gateway.razorpay"),
		obs: obs,
	}
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type paymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

func (g *Gateway) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (domain.OrderRef, error) {
	if amount <= 0 {
		return domain.OrderRef{}, domain.ErrInvalidPayload
	}
	body := map[string]any{
		"amount":   amount,
		"currency": strings.ToUpper(strings.TrimSpace(currency)),
		"receipt":  receiptFor(metadata),
		"notes":    metadata,
	}

	var resp orderResponse
	if err := g.post(ctx, "/orders", body, &resp); err != nil {
		g.obs.IncGatewayCall("create_order", "error")
		return domain.OrderRef{}, err
	}
	if resp.ID == "" {
		g.obs.IncGatewayCall("create_order", "error")
		return domain.OrderRef{}, fmt.Errorf("%w: empty order id", domain.ErrGateway)
	}
	g.obs.IncGatewayCall("create_order", "ok")
	return domain.OrderRef{
		OrderID:  resp.ID,
		Amount:   resp.Amount,
		Currency: resp.Currency,
		Status:   resp.Status,
	}, nil
}

func (g *Gateway) Capture(ctx context.Context, providerPaymentID string, amount int64, currency string) (domain.CaptureResult, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" || amount <= 0 {
		return domain.CaptureResult{}, domain.ErrInvalidPayload
	}
	body := map[string]any{
		"amount":   amount,
		"currency": strings.ToUpper(strings.TrimSpace(currency)),
	}

	var resp paymentResponse
	if err := g.post(ctx, "/payments/"+providerPaymentID+"/capture", body, &resp); err != nil {
		g.obs.IncGatewayCall("capture", "error")
		return domain.CaptureResult{}, err
	}
	g.obs.IncGatewayCall("capture", "ok")
	return domain.CaptureResult{
		ProviderPaymentID: resp.ID,
		Amount:            resp.Amount,
		Currency:          resp.Currency,
		Status:            resp.Status,
	}, nil
}

func (g *Gateway) Refund(ctx context.Context, providerPaymentID string, amount int64, reason string) (domain.RefundRef, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return domain.RefundRef{}, domain.ErrInvalidPayload
	}
	body := map[string]any{
		"notes": map[string]string{"reason": strings.TrimSpace(reason)},
	}
	if amount > 0 {
		// Omitting amount refunds the full capture on the provider side.
		body["amount"] = amount
	}

	var resp refundResponse
	if err := g.post(ctx, "/payments/"+providerPaymentID+"/refund", body, &resp); err != nil {
		g.obs.IncGatewayCall("refund", "error")
		return domain.RefundRef{}, err
	}
	g.obs.IncGatewayCall("refund", "ok")
	return domain.RefundRef{
		RefundID: resp.ID,
		Amount:   resp.Amount,
		Status:   resp.Status,
	}, nil
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw payload.
// Any malformed input reads as "not verified".
func (g *Gateway) VerifySignature(payload []byte, signature string, secret string) bool {
	signature = strings.TrimSpace(signature)
	if len(payload) == 0 || signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

type webhookEnvelope struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Amount           int64  `json:"amount"`
				Currency         string `json:"currency"`
				Status           string `json:"status"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
				Currency  string `json:"currency"`
			} `json:"entity"`
		} `json:"refund"`
		Payout struct {
			Entity struct {
				ID     string            `json:"id"`
				Amount int64             `json:"amount"`
				UTR    string            `json:"utr"`
				Status string            `json:"status"`
				Notes  map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payout"`
	} `json:"payload"`
}

func (g *Gateway) ParseWebhook(payload []byte) (*domain.ProviderEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	event := &domain.ProviderEvent{
		Provider:        "razorpay",
		ProviderEventID: envelope.ID,
		OccurredAt:      timestamp(envelope.CreatedAt),
		RawPayload:      payload,
	}

	switch strings.TrimSpace(envelope.Event) {
	case "payment.authorized":
		entity := envelope.Payload.Payment.Entity
		if entity.ID == "" {
			return nil, domain.ErrInvalidEvent
		}
		event.Type = domain.ProviderEventAuthorized
		event.ProviderPaymentID = entity.ID
		event.ProviderOrderID = entity.OrderID
		event.Amount = entity.Amount
		event.Currency = strings.ToUpper(strings.TrimSpace(entity.Currency))
	case "payment.captured":
		entity := envelope.Payload.Payment.Entity
		if entity.ID == "" {
			return nil, domain.ErrInvalidEvent
		}
		event.Type = domain.ProviderEventCaptured
		event.ProviderPaymentID = entity.ID
		event.ProviderOrderID = entity.OrderID
		event.Amount = entity.Amount
		event.Currency = strings.ToUpper(strings.TrimSpace(entity.Currency))
	case "payment.failed":
		entity := envelope.Payload.Payment.Entity
		if entity.ID == "" {
			return nil, domain.ErrInvalidEvent
		}
		event.Type = domain.ProviderEventFailed
		event.ProviderPaymentID = entity.ID
		event.ProviderOrderID = entity.OrderID
		event.Amount = entity.Amount
		event.Currency = strings.ToUpper(strings.TrimSpace(entity.Currency))
		event.FailureReason = strings.TrimSpace(entity.ErrorDescription)
	case "refund.processed":
		entity := envelope.Payload.Refund.Entity
		if entity.ID == "" || entity.PaymentID == "" {
			return nil, domain.ErrInvalidEvent
		}
		event.Type = domain.ProviderEventRefunded
		event.ProviderRefundID = entity.ID
		event.ProviderPaymentID = entity.PaymentID
		event.Amount = entity.Amount
		event.Currency = strings.ToUpper(strings.TrimSpace(entity.Currency))
	case "payout.processed":
		entity := envelope.Payload.Payout.Entity
		if entity.ID == "" {
			return nil, domain.ErrInvalidEvent
		}
		event.Type = domain.ProviderEventPayoutProcessed
		event.ProviderPayoutID = entity.ID
		event.ProviderPaymentID = strings.TrimSpace(entity.Notes["payment_id"])
		event.Amount = entity.Amount
		event.UTRNumber = strings.TrimSpace(entity.UTR)
	default:
		return nil, domain.ErrEventIgnored
	}

	return event, nil
}

func (g *Gateway) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(g.cfg.BaseURL, "/")+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)

	resp, err := g.client.Do(req)
	if err != nil {
		// Timeout or transport failure: outcome unknown, reconciled by webhook.
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.Unmarshal(raw, out)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: provider returned %d", domain.ErrGateway, resp.StatusCode)
	default:
		g.log.Warn("gateway request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return fmt.Errorf("gateway rejected request: %d", resp.StatusCode)
	}
}

func receiptFor(metadata map[string]string) string {
	if taskID := strings.TrimSpace(metadata["task_id"]); taskID != "" {
		return "task-" + taskID
	}
	return "task-unknown"
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
