package razorpay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/smallbiznis/invoicer/internal/providers/payment/domain"
)

const providerName = "razorpay"

// linkAPI is the subset of the Razorpay payment link resource in use.
type linkAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(id string, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.Secret)
	if keyID == "" || secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	client := razorpay.NewClient(keyID, secret)
	return &Gateway{links: client.PaymentLink}, nil
}

// Gateway uses Razorpay payment links as the hosted checkout page.
type Gateway struct {
	links linkAPI
}

func (g *Gateway) Name() string        { return providerName }
func (g *Gateway) DisplayName() string { return "Razorpay" }

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if err := domain.ValidateCheckout(req); err != nil {
		return domain.CheckoutSession{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.CheckoutSession{}, err
	}

	data := map[string]interface{}{
		"amount":          req.AmountMinor,
		"currency":        strings.ToUpper(req.Currency),
		"reference_id":    req.InvoiceID,
		"description":     fmt.Sprintf("Invoice %s", req.InvoiceNumber),
		"callback_url":    req.SuccessURL,
		"callback_method": "get",
		"notes": map[string]interface{}{
			"invoice_id":     req.InvoiceID,
			"invoice_number": req.InvoiceNumber,
		},
	}
	if req.CustomerEmail != "" {
		data["customer"] = map[string]interface{}{
			"name":  req.CustomerName,
			"email": req.CustomerEmail,
		}
	}

	link, err := g.links.Create(data, nil)
	if err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	id, _ := link["id"].(string)
	url, _ := link["short_url"].(string)
	if id == "" || url == "" {
		return domain.CheckoutSession{}, fmt.Errorf("%w: payment link response missing id", domain.ErrProviderFailure)
	}
	return domain.CheckoutSession{ID: id, URL: url, Provider: providerName}, nil
}

func (g *Gateway) VerifySession(ctx context.Context, sessionID string) (domain.VerifiedSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.VerifiedSession{}, domain.ErrSessionNotFound
	}
	if err := ctx.Err(); err != nil {
		return domain.VerifiedSession{}, err
	}

	link, err := g.links.Fetch(sessionID, nil, nil)
	if err != nil {
		return domain.VerifiedSession{}, mapError(err)
	}

	status, _ := link["status"].(string)
	currency, _ := link["currency"].(string)
	invoiceID, _ := link["reference_id"].(string)
	return domain.VerifiedSession{
		ID:          sessionID,
		Paid:        strings.EqualFold(status, "paid"),
		AmountMinor: toInt64(link["amount_paid"]),
		Currency:    strings.ToUpper(currency),
		InvoiceID:   invoiceID,
	}, nil
}

func mapError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return domain.ErrSessionNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrProviderUnavailable
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
}

// toInt64 handles the float64 values produced by encoding/json.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
