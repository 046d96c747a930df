package revenuemetrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/prompb"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/chargeflow/internal/config"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestRecorder_SettlementAndNilSafety(t *testing.T) {
	rec := NewRecorder(prometheus.NewRegistry())
	rec.RecordSettlement("eur", "initial charge", decimal.RequireFromString("12.5"))
	rec.RecordSettlement("EUR", "initial charge", decimal.Zero)
	rec.RecordRollback()

	assert.Equal(t, 12.5, testutil.ToFloat64(rec.settledAmount.WithLabelValues("EUR", "initial charge")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.settledCharges.WithLabelValues("EUR", "initial charge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.rollbacks))

	var nilRec *Recorder
	assert.NotPanics(t, func() {
		nilRec.RecordSettlement("EUR", "x", decimal.NewFromInt(1))
		nilRec.RecordRollback()
		nilRec.SetPendingPurchases(3)
	})
	assert.Nil(t, nilRec.Registry())
}

func TestNewPusher_Selection(t *testing.T) {
	log := zap.NewNop()
	assert.Nil(t, NewPusher(config.Config{}, log))

	cfg := config.Config{AppName: "chargeflow", RevenueMetrics: config.RevenueMetricsConfig{Enabled: true}}
	assert.Nil(t, NewPusher(cfg, log), "exporter required")

	cfg.RevenueMetrics.Exporter = exporterPrometheusRemoteWrite
	cfg.RevenueMetrics.Endpoint = "not a url"
	assert.Nil(t, NewPusher(cfg, log))

	cfg.RevenueMetrics.Endpoint = "http://metrics.local/api/v1/write"
	assert.IsType(t, &RemoteWritePusher{}, NewPusher(cfg, log))

	cfg.RevenueMetrics.Exporter = exporterPrometheusPushgateway
	assert.IsType(t, &PushgatewayPusher{}, NewPusher(cfg, log))

	cfg.RevenueMetrics.Exporter = "statsd"
	assert.Nil(t, NewPusher(cfg, log))
}

func TestRemoteWritePusher_SendsSnappyProtobuf(t *testing.T) {
	var got prompb.WriteRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := NewRecorder(prometheus.NewRegistry())
	rec.RecordSettlement("EUR", "Renovation", decimal.NewFromInt(10))

	require.NoError(t, NewRemoteWritePusher(srv.URL, "secret").Push(context.Background(), rec.Registry()))
	assert.Equal(t, "Bearer secret", auth)

	names := map[string]bool{}
	for _, ts := range got.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				names[l.Value] = true
			}
		}
	}
	assert.True(t, names["chargeflow_revenue_settled_amount_total"])
	assert.True(t, names["chargeflow_revenue_pending_purchases"])
}

func TestRemoteWritePusher_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := NewRecorder(prometheus.NewRegistry())
	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), rec.Registry())
	assert.Error(t, err)
}

func TestRefreshPendingPurchases(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&purchasedomain.Purchase{}))

	node, _ := snowflake.NewNode(1)
	for _, state := range []purchasedomain.PurchaseState{purchasedomain.StatePending, purchasedomain.StatePending, purchasedomain.StatePaid} {
		require.NoError(t, db.Create(&purchasedomain.Purchase{
			ID:       node.Generate(),
			Customer: "test_user",
			Offering: purchasedomain.Offering{Name: "o", Organization: "org", Version: "1.0"},
			State:    state,
			Bills:    []string{},
		}).Error)
	}

	rec := NewRecorder(prometheus.NewRegistry())
	refreshPendingPurchases(context.Background(), rec, db)
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.pendingPurchases))
}
