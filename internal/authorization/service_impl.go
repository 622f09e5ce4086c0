package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/auditcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvoice  = "invoice"
	ObjectClient   = "client"
	ObjectItem     = "item"
	ObjectSettings = "settings"
	ObjectAuditLog = "audit_log"
	ObjectReport   = "report"
)

const (
	ActionInvoiceView    = "invoice.view"
	ActionInvoiceCreate  = "invoice.create"
	ActionInvoiceUpdate  = "invoice.update"
	ActionInvoiceSend    = "invoice.send"
	ActionInvoiceCancel  = "invoice.cancel"
	ActionInvoiceArchive = "invoice.archive"
	ActionInvoiceDelete  = "invoice.delete"
	ActionInvoiceCollect = "invoice.collect"

	ActionClientView   = "client.view"
	ActionClientCreate = "client.create"
	ActionClientDelete = "client.delete"

	ActionItemView   = "item.view"
	ActionItemCreate = "item.create"
	ActionItemUpdate = "item.update"

	ActionSettingsView   = "settings.view"
	ActionSettingsUpdate = "settings.update"

	ActionAuditLogView = "audit_log.view"

	ActionReportDashboard = "report.dashboard"
	ActionReportAnalytics = "report.analytics"

	ActionInvoiceMarkOverdue = "invoice.mark_overdue"
)

const (
	RoleAdmin  = "admin"
	RoleStaff  = "staff"
	RoleSystem = "system"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists policies in the casbin_rule table.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return NewEnforcerWithAdapter(adapter)
}

// NewEnforcerWithAdapter loads stored policies and seeds the built-in role grants.
func NewEnforcerWithAdapter(adapter persist.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	actorType, actorID := auditcontext.ActorFromContext(ctx)
	role := auditcontext.RoleFromContext(ctx)
	subject, err := subjectFor(actorType, actorID, role)
	if err != nil {
		s.auditDenied(ctx, object, action)
		return err
	}
	if actorType == auditcontext.ActorTypeUser {
		if err := s.ensureGrouping(subject, "role:"+role); err != nil {
			return err
		}
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, object, action)
		return ErrForbidden
	}
	return nil
}

func subjectFor(actorType, actorID, role string) (string, error) {
	switch actorType {
	case auditcontext.ActorTypeSystem:
		return "role:" + RoleSystem, nil
	case auditcontext.ActorTypeUser:
		if strings.TrimSpace(actorID) == "" {
			return "", ErrInvalidActor
		}
		if role != RoleAdmin && role != RoleStaff {
			return "", ErrForbidden
		}
		return fmt.Sprintf("user:%s", actorID), nil
	default:
		return "", ErrInvalidActor
	}
}

// ensureGrouping keeps exactly one role link per user so a role change
// in the request replaces the previous grant.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) >= 2 && rule[1] != roleName {
			if _, err := s.enforcer.RemoveGroupingPolicy(rule[0], rule[1]); err != nil {
				return err
			}
		}
	}
	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil || has {
		return err
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := object
	err := s.auditSvc.AuditLog(ctx, "", nil, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   auditcontext.RoleFromContext(ctx),
	})
	if err != nil {
		s.log.Warn("audit write failed", zap.String("action", "authorization.denied"), zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:staff", ObjectInvoice, ActionInvoiceView},
		{"role:staff", ObjectInvoice, ActionInvoiceCreate},
		{"role:staff", ObjectInvoice, ActionInvoiceUpdate},
		{"role:staff", ObjectInvoice, ActionInvoiceSend},
		{"role:staff", ObjectInvoice, ActionInvoiceCancel},
		{"role:staff", ObjectInvoice, ActionInvoiceCollect},
		{"role:staff", ObjectClient, ActionClientView},
		{"role:staff", ObjectClient, ActionClientCreate},
		{"role:staff", ObjectItem, ActionItemView},
		{"role:staff", ObjectSettings, ActionSettingsView},
		{"role:staff", ObjectReport, ActionReportDashboard},

		{"role:admin", ObjectInvoice, ActionInvoiceArchive},
		{"role:admin", ObjectInvoice, ActionInvoiceDelete},
		{"role:admin", ObjectClient, ActionClientDelete},
		{"role:admin", ObjectItem, ActionItemCreate},
		{"role:admin", ObjectItem, ActionItemUpdate},
		{"role:admin", ObjectSettings, ActionSettingsUpdate},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectReport, ActionReportAnalytics},

		{"role:system", ObjectInvoice, ActionInvoiceView},
		{"role:system", ObjectInvoice, ActionInvoiceMarkOverdue},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	has, err := enforcer.HasGroupingPolicy("role:admin", "role:staff")
	if err != nil || has {
		return err
	}
	_, err = enforcer.AddGroupingPolicy("role:admin", "role:staff")
	return err
}
