// Package billing computes invoice totals from current catalog prices.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/invoicer/internal/catalog/domain"
)

var (
	ErrInvalidLineItem = errors.New("invalid_line_item")
	ErrInvalidTaxRate  = errors.New("invalid_tax_rate")
)

var hundred = decimal.NewFromInt(100)

// CatalogLookup resolves the current price of a catalog item.
type CatalogLookup interface {
	Lookup(ctx context.Context, id snowflake.ID) (catalogdomain.Item, error)
}

type LineRequest struct {
	ItemID   snowflake.ID `json:"item_id"`
	Quantity int64        `json:"quantity"`
}

// Line is a priced snapshot of one requested entry.
type Line struct {
	ItemID      snowflake.ID
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// Rejection records a requested entry that was dropped.
type Rejection struct {
	Index  int          `json:"index"`
	ItemID snowflake.ID `json:"item_id"`
	Reason string       `json:"reason"`
	Err    error        `json:"-"`
}

type Result struct {
	Lines    []Line
	Total    decimal.Decimal
	Tax      decimal.Decimal
	TaxRate  decimal.Decimal
	Rejected []Rejection
}

type Calculator struct {
	catalog CatalogLookup
}

func NewCalculator(catalog CatalogLookup) *Calculator {
	return &Calculator{catalog: catalog}
}

// Calculate prices each request at the current catalog price. Unknown items
// and non-positive quantities are dropped and reported in Result.Rejected;
// lookup failures other than not-found abort the calculation.
func (c *Calculator) Calculate(ctx context.Context, requests []LineRequest, taxRate decimal.Decimal) (Result, error) {
	if taxRate.IsNegative() || taxRate.GreaterThan(hundred) {
		return Result{}, ErrInvalidTaxRate
	}

	result := Result{
		Lines:   make([]Line, 0, len(requests)),
		Total:   decimal.Zero,
		TaxRate: taxRate,
	}
	for i, req := range requests {
		if req.Quantity <= 0 {
			result.Rejected = append(result.Rejected, rejection(i, req, "quantity must be positive"))
			continue
		}
		item, err := c.catalog.Lookup(ctx, req.ItemID)
		if errors.Is(err, catalogdomain.ErrNotFound) {
			result.Rejected = append(result.Rejected, rejection(i, req, "catalog item not found"))
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("lookup item %s: %w", req.ItemID, err)
		}

		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(req.Quantity))
		result.Lines = append(result.Lines, Line{
			ItemID:      item.ID,
			Description: item.Description,
			Quantity:    req.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   lineTotal,
		})
		result.Total = result.Total.Add(lineTotal)
	}

	result.Tax = Tax(result.Total, taxRate)
	return result, nil
}

// Tax is total * rate / 100 rounded half away from zero to cents.
func Tax(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Div(hundred).Round(2)
}

func rejection(index int, req LineRequest, reason string) Rejection {
	return Rejection{
		Index:  index,
		ItemID: req.ItemID,
		Reason: reason,
		Err:    ErrInvalidLineItem,
	}
}
