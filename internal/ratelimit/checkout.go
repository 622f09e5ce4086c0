package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/invoicer/internal/config"
)

const (
	keyCheckoutClient  = "checkout:client:%s"
	keyCheckoutInvoice = "checkout:invoice:%s"
)

var (
	checkoutClientLimit  = Limit{Rate: 0.5, Burst: 10}
	checkoutInvoiceLimit = Limit{Rate: 0.2, Burst: 5}
)

const (
	ReasonClientRate  = "client-rate"
	ReasonInvoiceRate = "invoice-rate"
)

// CheckoutLimiter throttles the checkout and payment-confirmation routes,
// which call out to the payment provider. A nil limiter allows everything.
type CheckoutLimiter struct {
	bucket *Bucket

	perClient  Limit
	perInvoice Limit
}

// NewCheckoutLimiter shares REDIS_ADDR with the scheduler lock. Without
// redis the routes are not limited.
func NewCheckoutLimiter(cfg config.Config) *CheckoutLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewCheckoutLimiterWithClient(client)
}

func NewCheckoutLimiterWithClient(client *redis.Client) *CheckoutLimiter {
	if client == nil {
		return nil
	}
	return &CheckoutLimiter{
		bucket:     NewBucket(client),
		perClient:  checkoutClientLimit,
		perInvoice: checkoutInvoiceLimit,
	}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow checks the caller's bucket first, then the invoice's. A refusal
// carries the bucket's reason and how long until a token is available.
func (l *CheckoutLimiter) Allow(ctx context.Context, clientIP, invoiceID string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	decision, err := l.bucket.Take(ctx, fmt.Sprintf(keyCheckoutClient, strings.TrimSpace(clientIP)), l.perClient)
	if err != nil {
		return Decision{}, err
	}
	if !decision.Allowed {
		decision.Reason = ReasonClientRate
		return decision, nil
	}

	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return decision, nil
	}
	decision, err = l.bucket.Take(ctx, fmt.Sprintf(keyCheckoutInvoice, invoiceID), l.perInvoice)
	if err != nil {
		return Decision{}, err
	}
	if !decision.Allowed {
		decision.Reason = ReasonInvoiceRate
	}
	return decision, nil
}
