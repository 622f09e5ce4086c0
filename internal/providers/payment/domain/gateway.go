package domain

import (
	"context"
	"errors"
	"net/http"
)

// CheckoutRequest describes a hosted payment page for one invoice. Amounts
// are in the currency's minor unit.
type CheckoutRequest struct {
	InvoiceID     string
	InvoiceNumber string
	AmountMinor   int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	Description   string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// VerifiedSession is the provider's own view of a checkout session.
// InvoiceID is the reference we attached when the session was created.
type VerifiedSession struct {
	ID          string
	Paid        bool
	AmountMinor int64
	Currency    string
	InvoiceID   string
}

// Gateway is a hosted checkout provider.
type Gateway interface {
	Name() string
	// DisplayName is stored as the payment method.
	DisplayName() string
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	VerifySession(ctx context.Context, sessionID string) (VerifiedSession, error)
}

type GatewayConfig struct {
	KeyID      string
	Secret     string
	BaseURL    string
	HTTPClient *http.Client
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

var (
	ErrProviderNotFound    = errors.New("payment_provider_not_found")
	ErrInvalidConfig       = errors.New("invalid_payment_provider_config")
	ErrInvalidRequest      = errors.New("invalid_checkout_request")
	ErrSessionNotFound     = errors.New("checkout_session_not_found")
	ErrProviderFailure     = errors.New("payment_provider_failure")
	ErrProviderUnavailable = errors.New("payment_provider_unavailable")
)

func ValidateCheckout(req CheckoutRequest) error {
	if req.InvoiceID == "" || req.AmountMinor <= 0 || req.Currency == "" {
		return ErrInvalidRequest
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return ErrInvalidRequest
	}
	return nil
}
