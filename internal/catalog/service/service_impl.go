package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/catalog/domain"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     repository.Repository[domain.Item]
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     repository.Repository[domain.Item]
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("catalog.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Item, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, domain.ErrInvalidDescription
	}
	if req.UnitPrice.IsNegative() {
		return nil, domain.ErrInvalidUnitPrice
	}

	now := s.clock.Now()
	item := domain.Item{
		ID:          s.genID.Generate(),
		Description: description,
		UnitPrice:   req.UnitPrice.Round(2),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, &item); err != nil {
		return nil, err
	}

	s.audit(ctx, auditdomain.ActionItemCreate, item.ID, map[string]any{"unit_price": item.UnitPrice.StringFixed(2)})
	return &item, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.repo.Find(ctx, nil, repository.OrderBy("description asc, id asc"))
	if err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Item, error) {
	item, err := s.repo.FindOne(ctx, &domain.Item{ID: id})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) Lookup(ctx context.Context, id snowflake.ID) (domain.Item, error) {
	if id == 0 {
		return domain.Item{}, domain.ErrNotFound
	}
	item, err := s.Get(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

// UpdatePrice changes the current price. Existing invoice lines are unaffected.
func (s *Service) UpdatePrice(ctx context.Context, id snowflake.ID, price decimal.Decimal) (*domain.Item, error) {
	if price.IsNegative() {
		return nil, domain.ErrInvalidUnitPrice
	}
	affected, err := s.repo.Update(ctx, int64(id), map[string]any{
		"unit_price": price.Round(2),
		"updated_at": s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrNotFound
	}

	s.audit(ctx, auditdomain.ActionItemPriceUpdate, id, map[string]any{"unit_price": price.Round(2).StringFixed(2)})
	return s.Get(ctx, id)
}

func (s *Service) audit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := id.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "item", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
