package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallbiznis/invoicer/internal/observability/tracing"
	"github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

const providerName = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        tracing.WrapHTTPClient(cfg.HTTPClient),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if url := strings.TrimSpace(cfg.BaseURL); url != "" {
		backendCfg.URL = stripe.String(url)
	}

	sc := &client.API{}
	sc.Init(secret, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &Gateway{client: sc}, nil
}

// Gateway creates Stripe Checkout sessions in payment mode.
type Gateway struct {
	client *client.API
}

func (g *Gateway) Name() string        { return providerName }
func (g *Gateway) DisplayName() string { return "Stripe" }

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if err := domain.ValidateCheckout(req); err != nil {
		return domain.CheckoutSession{}, err
	}

	name := fmt.Sprintf("Invoice %s", req.InvoiceNumber)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withSessionID(req.SuccessURL)),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.InvoiceID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.Description != "" {
		params.LineItems[0].PriceData.ProductData.Description = stripe.String(req.Description)
	}
	params.AddMetadata("invoice_id", req.InvoiceID)
	params.AddMetadata("invoice_number", req.InvoiceNumber)
	params.Context = ctx

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return domain.CheckoutSession{}, mapStripeError(err)
	}
	return domain.CheckoutSession{
		ID:       session.ID,
		URL:      session.URL,
		Provider: providerName,
	}, nil
}

func (g *Gateway) VerifySession(ctx context.Context, sessionID string) (domain.VerifiedSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.VerifiedSession{}, domain.ErrSessionNotFound
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return domain.VerifiedSession{}, mapStripeError(err)
	}

	invoiceID := session.ClientReferenceID
	if invoiceID == "" && session.Metadata != nil {
		invoiceID = session.Metadata["invoice_id"]
	}
	return domain.VerifiedSession{
		ID:          session.ID,
		Paid:        session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountMinor: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		InvoiceID:   invoiceID,
	}, nil
}

// withSessionID asks Stripe to append the session id to the redirect.
func withSessionID(successURL string) string {
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

// mapStripeError keeps stripe-go types out of the service layer.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound:
			return domain.ErrSessionNotFound
		case stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return domain.ErrProviderUnavailable
		case stripeErr.HTTPStatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: authentication rejected", domain.ErrInvalidConfig)
		}
		return fmt.Errorf("%w: %s", domain.ErrProviderFailure, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}
