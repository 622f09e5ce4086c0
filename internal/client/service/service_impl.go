package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/client/domain"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("client.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateClientRequest) (domain.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Client{}, domain.ErrInvalidName
	}
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Client{}, domain.ErrInvalidEmail
	}

	now := s.clock.Now()
	client := domain.Client{
		ID:          s.genID.Generate(),
		Name:        name,
		CompanyName: strings.TrimSpace(req.CompanyName),
		Email:       email,
		Phone:       strings.TrimSpace(req.Phone),
		Address:     strings.TrimSpace(req.Address),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &client); err != nil {
		return domain.Client{}, err
	}

	s.audit(ctx, auditdomain.ActionClientCreate, client.ID, nil)
	return client, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Client, error) {
	client, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Client{}, err
	}
	if client == nil {
		return domain.Client{}, domain.ErrNotFound
	}
	return *client, nil
}

func (s *Service) List(ctx context.Context, req domain.ListClientRequest) (domain.ListClientResponse, error) {
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListClientResponse{}, err
	}
	filter := domain.ListFilter{Name: req.Name, Limit: req.Limit()}
	if cursor != nil {
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListClientResponse{}, pagination.ErrInvalidPageToken
		}
		filter.AfterID = afterID
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListClientResponse{}, err
	}
	rows, pageInfo := pagination.BuildCursorPageInfo(rows, filter.Limit, func(c *domain.Client) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: c.ID.String()})
		return token
	})

	clients := make([]domain.Client, 0, len(rows))
	for _, row := range rows {
		clients = append(clients, *row)
	}
	return domain.ListClientResponse{PageInfo: *pageInfo, Clients: clients}, nil
}

// Delete refuses to cascade: invoices and their payments keep the client row alive.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		client, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if client == nil {
			return domain.ErrNotFound
		}

		count, err := s.repo.CountInvoices(ctx, tx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrConflict
		}

		_, err = s.repo.Delete(ctx, tx, id)
		return err
	})
	if err != nil {
		if err == domain.ErrConflict {
			s.log.Info("client delete refused", zap.String("client_id", id.String()))
		}
		return err
	}

	s.audit(ctx, auditdomain.ActionClientDelete, id, nil)
	return nil
}

func (s *Service) audit(ctx context.Context, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := id.String()
	if err := s.auditSvc.AuditLog(ctx, "", nil, action, "client", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}
