package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicer/pkg/db/pagination"
)

type CreateClientRequest struct {
	Name        string `json:"name"`
	CompanyName string `json:"company_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

type ListClientRequest struct {
	pagination.Pagination
	Name string `form:"name"`
}

type ListFilter struct {
	Name    string
	AfterID snowflake.ID
	Limit   int
}

type ListClientResponse struct {
	pagination.PageInfo
	Clients []Client `json:"clients"`
}

type Service interface {
	Create(ctx context.Context, req CreateClientRequest) (Client, error)
	GetByID(ctx context.Context, id snowflake.ID) (Client, error)
	List(ctx context.Context, req ListClientRequest) (ListClientResponse, error)
	// Delete fails with ErrConflict while any invoice references the client.
	Delete(ctx context.Context, id snowflake.ID) error
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("client_has_invoices")
)
