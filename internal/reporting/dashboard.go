package reporting

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	clientdomain "github.com/smallbiznis/invoicer/internal/client/domain"
	"github.com/smallbiznis/invoicer/internal/clock"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	"gorm.io/gorm"
)

const (
	recentInvoiceLimit = 5
	topItemLimit       = 5
	trendMonths        = 6
)

type CurrencyAmount struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type RecentInvoice struct {
	ID            snowflake.ID         `json:"id"`
	InvoiceNumber string               `json:"invoice_number"`
	ClientName    string               `json:"client_name"`
	Status        invoicedomain.Status `json:"status"`
	IssueDate     time.Time            `json:"issue_date"`
	DueDate       time.Time            `json:"due_date"`
	Currency      string               `json:"currency"`
	AmountDue     decimal.Decimal      `json:"amount_due"`
}

// Summary is the landing page view: billed revenue, open work and the
// latest invoices.
type Summary struct {
	Revenue         []CurrencyAmount `json:"revenue"`
	PendingInvoices int64            `json:"pending_invoices"`
	Clients         int64            `json:"clients"`
	RecentInvoices  []RecentInvoice  `json:"recent_invoices"`
}

type MonthRevenue struct {
	Month   string           `json:"month"`
	Revenue []CurrencyAmount `json:"revenue"`
}

type ItemRevenue struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type AgingBucket struct {
	Label    string `json:"label"`
	Invoices int64  `json:"invoices"`
}

type Analytics struct {
	Revenue         []CurrencyAmount `json:"revenue"`
	MonthlyRevenue  []CurrencyAmount `json:"monthly_revenue"`
	PendingInvoices int64            `json:"pending_invoices"`
	RevenueTrend    []MonthRevenue   `json:"revenue_trend"`
	StatusBreakdown []StatusTotal    `json:"status_breakdown"`
	TopItems        []ItemRevenue    `json:"top_items"`
	Aging           []AgingBucket    `json:"aging"`
}

// Dashboard answers summary queries straight from the database. Revenue is
// the amount due of every non-archived invoice that has left DRAFT and was
// not cancelled, kept apart per currency.
type Dashboard struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDashboard(db *gorm.DB, clk clock.Clock) *Dashboard {
	return &Dashboard{db: db, clock: clk}
}

func (d *Dashboard) Summary(ctx context.Context) (Summary, error) {
	totals, err := invoiceTotals(ctx, d.db)
	if err != nil {
		return Summary{}, err
	}

	var clients int64
	if err := d.db.WithContext(ctx).Model(&clientdomain.Client{}).Count(&clients).Error; err != nil {
		return Summary{}, err
	}

	recent, err := d.recentInvoices(ctx)
	if err != nil {
		return Summary{}, err
	}

	return Summary{
		Revenue:         billedRevenue(totals),
		PendingInvoices: pendingCount(totals),
		Clients:         clients,
		RecentInvoices:  recent,
	}, nil
}

func (d *Dashboard) Analytics(ctx context.Context) (Analytics, error) {
	now := d.clock.Now().UTC()

	totals, err := invoiceTotals(ctx, d.db)
	if err != nil {
		return Analytics{}, err
	}
	trend, err := d.revenueTrend(ctx, now)
	if err != nil {
		return Analytics{}, err
	}
	items, err := d.topItems(ctx)
	if err != nil {
		return Analytics{}, err
	}
	aging, err := d.aging(ctx, now)
	if err != nil {
		return Analytics{}, err
	}

	return Analytics{
		Revenue:         billedRevenue(totals),
		MonthlyRevenue:  trend[len(trend)-1].Revenue,
		PendingInvoices: pendingCount(totals),
		RevenueTrend:    trend,
		StatusBreakdown: totals,
		TopItems:        items,
		Aging:           aging,
	}, nil
}

func (d *Dashboard) recentInvoices(ctx context.Context) ([]RecentInvoice, error) {
	rows := []RecentInvoice{}
	err := d.db.WithContext(ctx).
		Table("invoices AS i").
		Select("i.id, i.invoice_number, c.name AS client_name, i.status, i.issue_date, i.due_date, i.currency, i.total_amount + i.tax_amount AS amount_due").
		Joins("LEFT JOIN clients c ON c.id = i.client_id").
		Where("i.is_archived = ?", false).
		Order("i.issue_date DESC, i.id DESC").
		Limit(recentInvoiceLimit).
		Scan(&rows).Error
	return rows, err
}

// revenueTrend buckets billed revenue by issue month, oldest first, ending
// with the month containing now. Months without invoices are present with
// no amounts.
func (d *Dashboard) revenueTrend(ctx context.Context, now time.Time) ([]MonthRevenue, error) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1-trendMonths, 0)
	rows, err := billedSince(ctx, d.db, first)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]map[string]decimal.Decimal, trendMonths)
	for _, row := range rows {
		month := row.IssueDate.UTC().Format("2006-01")
		if byMonth[month] == nil {
			byMonth[month] = map[string]decimal.Decimal{}
		}
		addAmount(byMonth[month], row.Currency, row.Amount)
	}

	trend := make([]MonthRevenue, 0, trendMonths)
	for i := 0; i < trendMonths; i++ {
		month := first.AddDate(0, i, 0).Format("2006-01")
		trend = append(trend, MonthRevenue{Month: month, Revenue: sortedAmounts(byMonth[month])})
	}
	return trend, nil
}

// topItems ranks line descriptions by pre-tax revenue on billed invoices.
func (d *Dashboard) topItems(ctx context.Context) ([]ItemRevenue, error) {
	rows := []ItemRevenue{}
	err := d.db.WithContext(ctx).
		Table("invoice_items AS li").
		Select("li.description, SUM(li.quantity) AS quantity, SUM(li.line_total) AS revenue").
		Joins("JOIN invoices i ON i.id = li.invoice_id").
		Where("i.is_archived = ? AND i.status NOT IN ?", false, unbilled).
		Group("li.description").
		Order("revenue DESC, li.description").
		Limit(topItemLimit).
		Scan(&rows).Error
	return rows, err
}

// aging sorts OVERDUE invoices by whole days past due.
func (d *Dashboard) aging(ctx context.Context, now time.Time) ([]AgingBucket, error) {
	var dueDates []time.Time
	err := d.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("is_archived = ? AND status = ? AND due_date < ?", false, invoicedomain.StatusOverdue, now).
		Pluck("due_date", &dueDates).Error
	if err != nil {
		return nil, err
	}

	buckets := []AgingBucket{{Label: "1-30 days"}, {Label: "31-60 days"}, {Label: "60+ days"}}
	for _, due := range dueDates {
		days := int(now.Sub(due.UTC()).Hours() / 24)
		switch {
		case days <= 30:
			buckets[0].Invoices++
		case days <= 60:
			buckets[1].Invoices++
		default:
			buckets[2].Invoices++
		}
	}
	return buckets, nil
}

func billedRevenue(totals []StatusTotal) []CurrencyAmount {
	sums := map[string]decimal.Decimal{}
	for _, row := range totals {
		if slices.Contains(unbilled, invoicedomain.Status(row.Status)) {
			continue
		}
		addAmount(sums, row.Currency, row.Amount)
	}
	return sortedAmounts(sums)
}

// pendingCount is the number of invoices still being drafted or awaiting
// payment before their due date.
func pendingCount(totals []StatusTotal) int64 {
	var n int64
	for _, row := range totals {
		switch invoicedomain.Status(row.Status) {
		case invoicedomain.StatusDraft, invoicedomain.StatusSent:
			n += row.Count
		}
	}
	return n
}

func addAmount(sums map[string]decimal.Decimal, currency string, amount decimal.Decimal) {
	sums[currency] = sums[currency].Add(amount)
}

func sortedAmounts(sums map[string]decimal.Decimal) []CurrencyAmount {
	out := make([]CurrencyAmount, 0, len(sums))
	for _, currency := range slices.Sorted(maps.Keys(sums)) {
		out = append(out, CurrencyAmount{Currency: currency, Amount: sums[currency]})
	}
	return out
}
