package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/audit/repository"
	"github.com/smallbiznis/invoicer/internal/auditcontext"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/internal/testutil"
	"github.com/smallbiznis/invoicer/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	db := testutil.OpenDB(t)
	fake := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return svc, fake
}

func TestAuditLogUsesRequestActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := auditcontext.WithActorRole(context.Background(), auditcontext.ActorTypeUser, "u-7", "admin")
	ctx = auditcontext.WithRequestID(ctx, "req-1")

	targetID := "42"
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionInvoiceArchive, "invoice", &targetID, map[string]any{"archived": true}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{TargetType: "invoice", TargetID: "42"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	require.Equal(t, "user", entry.ActorType)
	require.Equal(t, "u-7", *entry.ActorID)
	require.Equal(t, "req-1", *entry.RequestID)
	require.Equal(t, true, entry.Metadata["archived"])
	require.Equal(t, "admin", entry.Metadata["actor_role"])
}

func TestAuditLogDefaultsToSystemActorAndRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)

	require.ErrorIs(t, svc.AuditLog(context.Background(), "", nil, " ", "invoice", nil, nil), auditdomain.ErrInvalidAction)
	require.NoError(t, svc.AuditLog(context.Background(), "", nil, auditdomain.ActionInvoiceOverdue, "invoice", nil, nil))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, "system", resp.AuditLogs[0].ActorType)
	require.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, fake := newTestService(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(context.Background(), "system", nil, auditdomain.ActionInvoiceOverdue, "invoice", nil, map[string]any{"seq": i}))
		fake.Advance(time.Minute)
	}

	first, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)
	require.EqualValues(t, 2, first.AuditLogs[0].Metadata["seq"])

	second, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	require.False(t, second.HasMore)
	require.EqualValues(t, 0, second.AuditLogs[0].Metadata["seq"])

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "garbage!"}})
	require.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
