package reporting

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/invoicer/internal/config"
	"github.com/smallbiznis/invoicer/internal/invoice/invoicetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotRefreshTotalsOpenInvoices(t *testing.T) {
	h := invoicetest.New(t)
	ctx := context.Background()

	h.SentInvoice(t, "1000", 1)
	h.SentInvoice(t, "500", 2)
	h.Clock.Advance(time.Second)
	archived := h.DraftInvoice(t, "10", 1)
	_, err := h.Invoices.Archive(ctx, archived.ID)
	require.NoError(t, err)

	snapshot := NewSnapshot(h.DB)
	require.NoError(t, snapshot.Refresh(ctx))

	require.Equal(t, float64(2), promtestutil.ToFloat64(snapshot.invoices.WithLabelValues("SENT", "SGD")))
	require.InDelta(t, 2180, promtestutil.ToFloat64(snapshot.invoiceAmount.WithLabelValues("SENT", "SGD")), 0.001)
	require.Equal(t, 1, promtestutil.CollectAndCount(snapshot.invoices))
}

func TestSnapshotRefreshDropsVanishedLabels(t *testing.T) {
	h := invoicetest.New(t)
	ctx := context.Background()

	draft := h.DraftInvoice(t, "10", 1)
	snapshot := NewSnapshot(h.DB)
	require.NoError(t, snapshot.Refresh(ctx))
	require.Equal(t, 1, promtestutil.CollectAndCount(snapshot.invoices))

	_, err := h.Invoices.Archive(ctx, draft.ID)
	require.NoError(t, err)
	require.NoError(t, snapshot.Refresh(ctx))
	require.Equal(t, 0, promtestutil.CollectAndCount(snapshot.invoices))
}

func TestRemoteWritePusherSendsSnappyProtobuf(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
		written prompb.WriteRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		headers = r.Header.Clone()
		require.NoError(t, written.Unmarshal(decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "invoicer_invoices"}, []string{"status"})
	registry.MustRegister(gauge)
	gauge.WithLabelValues("OVERDUE").Set(3)

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(1700000000000) }
	require.NoError(t, pusher.Push(context.Background(), registry))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "snappy", headers.Get("Content-Encoding"))
	require.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Len(t, written.Timeseries, 1)

	series := written.Timeseries[0]
	require.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "invoicer_invoices"},
		{Name: "status", Value: "OVERDUE"},
	}, series.Labels)
	require.Equal(t, []prompb.Sample{{Value: 3, Timestamp: 1700000000000}}, series.Samples)
}

func TestRemoteWritePusherReportsRejectedWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "invoicer_pushes_total"})
	registry.MustRegister(counter)
	counter.Inc()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry)
	require.ErrorContains(t, err, "400")
}

func TestPushgatewayPusherGroupsByEnvironment(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "invoicer_invoices"})
	registry.MustRegister(gauge)

	pusher := NewPushgatewayPusher(srv.URL, "invoicer", map[string]string{"environment": "test", "empty": ""})
	require.NoError(t, pusher.Push(context.Background(), registry))
	require.Equal(t, "/metrics/job/invoicer/environment/test", path)
}

func TestNewPusherSelectsExporter(t *testing.T) {
	log := zap.NewNop()

	require.Nil(t, NewPusher(config.Config{}, log))
	require.Nil(t, NewPusher(config.Config{Reporting: config.ReportingConfig{Exporter: ExporterRemoteWrite}}, log))
	require.Nil(t, NewPusher(config.Config{Reporting: config.ReportingConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))

	pusher := NewPusher(config.Config{Reporting: config.ReportingConfig{
		Exporter: ExporterRemoteWrite,
		Endpoint: "http://metrics.test/api/v1/write",
	}}, log)
	require.IsType(t, &RemoteWritePusher{}, pusher)

	pusher = NewPusher(config.Config{AppName: "invoicer", Reporting: config.ReportingConfig{
		Exporter: ExporterPushgateway,
		Endpoint: "http://gateway.test",
	}}, log)
	require.IsType(t, &PushgatewayPusher{}, pusher)
}
