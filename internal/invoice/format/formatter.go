package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultInvoiceNumberTemplate = "INV-{YYYY}{MM}{DD}-{hh}{mm}{ss}"

// FormatInvoiceNumber renders template at issuedAt. A positive attempt
// appends "-<attempt>" so numbers issued within the same second stay unique.
func FormatInvoiceNumber(template string, issuedAt time.Time, attempt int) (string, error) {
	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if attempt < 0 {
		return "", fmt.Errorf("invalid invoice number attempt: %d", attempt)
	}

	out := strings.NewReplacer(
		"{YYYY}", issuedAt.Format("2006"),
		"{YY}", issuedAt.Format("06"),
		"{MM}", issuedAt.Format("01"),
		"{DD}", issuedAt.Format("02"),
		"{hh}", issuedAt.Format("15"),
		"{mm}", issuedAt.Format("04"),
		"{ss}", issuedAt.Format("05"),
	).Replace(template)

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}
	if attempt > 0 {
		out = fmt.Sprintf("%s-%d", out, attempt)
	}
	return out, nil
}

// Money renders an amount with two decimals and an upper-case currency code.
func Money(amount decimal.Decimal, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return amount.StringFixed(2)
	}
	return currency + " " + amount.StringFixed(2)
}

func Date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02 Jan 2006")
}
