package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Item, error)
	List(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id snowflake.ID) (*Item, error)
	UpdatePrice(ctx context.Context, id snowflake.ID, price decimal.Decimal) (*Item, error)
	// Lookup returns the current catalog entry or ErrNotFound.
	Lookup(ctx context.Context, id snowflake.ID) (Item, error)
}

type CreateRequest struct {
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type UpdatePriceRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
}

var (
	ErrInvalidDescription = errors.New("invalid_description")
	ErrInvalidUnitPrice   = errors.New("invalid_unit_price")
	ErrNotFound           = errors.New("not_found")
)
