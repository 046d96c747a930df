package cdr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/chargeflow/internal/cdr/domain"
	"github.com/smallbiznis/chargeflow/internal/cdr/sink"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticLookup map[string]string

func (l staticLookup) CountryCode(_ context.Context, key string) (string, error) {
	if code, ok := l[key]; ok {
		return code, nil
	}
	return "", errors.New("not found")
}

func (l staticLookup) CurrencyCode(ctx context.Context, key string) (string, error) {
	return l.CountryCode(ctx, key)
}

func testPurchase() *purchasedomain.Purchase {
	return &purchasedomain.Purchase{
		ID:       snowflake.ID(61004),
		Customer: "test_user",
		Country:  "Spain",
		Offering: purchasedomain.Offering{
			Name:         "test_offering",
			Organization: "test_organization",
			Version:      "1.0",
			Service:      "example service",
			ProductClass: "use",
		},
	}
}

func newTestEmitter(s domain.Sink, metrics *obsmetrics.ChargingMetrics) *Emitter {
	lookup := staticLookup{"Spain": "1", "EUR": "1"}
	return NewEmitter(Params{
		Log:        zap.NewNop(),
		Sink:       s,
		Countries:  lookup,
		Currencies: lookup,
		Charging:   metrics,
	})
}

func TestBuild_SinglePayment(t *testing.T) {
	e := newTestEmitter(sink.NewRecorder(), nil)
	parts := purchasedomain.AppliedParts{
		SinglePayment: []purchasedomain.Component{{Title: "example part", Unit: "single_payment", Currency: "EUR", Value: decimal.NewFromInt(1)}},
	}

	records := e.Build(context.Background(), testPurchase(), parts, time.Date(2013, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, records, 1)
	assert.Equal(t, domain.Record{
		Provider:     "wstore",
		Service:      "example service",
		DefinedModel: "Single payment event",
		Correlation:  "0",
		Purchase:     "61004",
		Offering:     "test_offering 1.0",
		ProductClass: "use",
		Description:  "Single payment: 1 EUR",
		CostCurrency: "1",
		CostValue:    "1",
		Country:      "1",
		Customer:     "test_user",
		Time:         "2013-03-01 00:00:00",
	}, records[0])
}

func TestBuild_InitialWithSubscription(t *testing.T) {
	e := newTestEmitter(sink.NewRecorder(), nil)
	parts := purchasedomain.AppliedParts{
		SinglePayment: []purchasedomain.Component{{Currency: "EUR", Value: decimal.NewFromInt(1)}},
		Subscription:  []purchasedomain.Component{{Unit: "per month", Currency: "EUR", Value: decimal.NewFromInt(10)}},
	}

	records := e.Build(context.Background(), testPurchase(), parts, time.Now())
	require.Len(t, records, 2)
	assert.Equal(t, "0", records[0].Correlation)
	assert.Equal(t, "1", records[1].Correlation)
	assert.Equal(t, "Subscription event", records[1].DefinedModel)
	assert.Equal(t, "Subscription: 10 EUR per month", records[1].Description)
	assert.Equal(t, "10", records[1].CostValue)
}

func TestBuild_PayPerUseAndOrganizationCustomer(t *testing.T) {
	e := newTestEmitter(sink.NewRecorder(), nil)
	purchase := testPurchase()
	purchase.OrganizationOwned = true
	purchase.OwnerOrganization = "test_organization"

	parts := purchasedomain.AppliedParts{
		PayPerUse: []purchasedomain.UsageCharge{{
			Model: purchasedomain.Component{Title: "example part", Unit: "invocation", Currency: "EUR", Value: decimal.NewFromInt(1)},
			Accounting: []purchasedomain.SDR{
				{Value: decimal.NewFromInt(15), Unit: "invocation"},
				{Value: decimal.NewFromInt(10), Unit: "invocation"},
			},
			Consumption: decimal.NewFromInt(25),
			Price:       decimal.RequireFromString("25.0"),
		}},
	}

	records := e.Build(context.Background(), purchase, parts, time.Now())
	require.Len(t, records, 1)
	assert.Equal(t, "Pay per use event", records[0].DefinedModel)
	assert.Equal(t, "Fee per invocation, Consumption: 25", records[0].Description)
	assert.Equal(t, "25", records[0].CostValue)
	assert.Equal(t, "test_organization", records[0].Customer)
}

func TestBuild_UnknownCodesFallBackToRawValues(t *testing.T) {
	e := newTestEmitter(sink.NewRecorder(), nil)
	purchase := testPurchase()
	purchase.Country = "Atlantis"
	parts := purchasedomain.AppliedParts{
		SinglePayment: []purchasedomain.Component{{Currency: "XXX", Value: decimal.NewFromInt(3)}},
	}

	records := e.Build(context.Background(), purchase, parts, time.Now())
	require.Len(t, records, 1)
	assert.Equal(t, "Atlantis", records[0].Country)
	assert.Equal(t, "XXX", records[0].CostCurrency)
}

func TestEmit_DispatchesInBackground(t *testing.T) {
	rec := sink.NewRecorder()
	e := newTestEmitter(rec, nil)
	parts := purchasedomain.AppliedParts{
		SinglePayment: []purchasedomain.Component{{Currency: "EUR", Value: decimal.NewFromInt(1)}},
	}

	e.Emit(context.Background(), testPurchase(), parts, time.Now())
	e.Wait()

	require.Len(t, rec.Batches(), 1)
	assert.Len(t, rec.Records(), 1)
}

func TestEmit_FailureIsCountedNotReturned(t *testing.T) {
	rec := sink.NewRecorder()
	rec.Err = errors.New("broker down")
	metrics := obsmetrics.NewChargingMetricsForTest(prometheus.NewRegistry())
	e := newTestEmitter(rec, metrics)

	e.Emit(context.Background(), testPurchase(), purchasedomain.AppliedParts{
		Subscription: []purchasedomain.Component{{Unit: "per month", Currency: "EUR", Value: decimal.NewFromInt(10)}},
	}, time.Now())
	e.Wait()

	assert.Empty(t, rec.Batches())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CDRFailureCount()))
}

func TestEmit_NothingSettledSendsNothing(t *testing.T) {
	rec := sink.NewRecorder()
	e := newTestEmitter(rec, nil)

	e.Emit(context.Background(), testPurchase(), purchasedomain.AppliedParts{}, time.Now())
	e.Wait()
	assert.Empty(t, rec.Batches())
}

func TestRegisterRevenueModel(t *testing.T) {
	rec := sink.NewRecorder()
	e := newTestEmitter(rec, nil)
	ctx := context.Background()

	model, err := e.RegisterRevenueModel(ctx, "wstore-component", decimal.NewFromInt(20))
	require.NoError(t, err)
	assert.Equal(t, "wstore", model.AppProviderID)
	require.Len(t, rec.RevenueModels(), 1)
	assert.Equal(t, "wstore-component", rec.RevenueModels()[0].ProductClass)

	_, err = e.RegisterRevenueModel(ctx, " ", decimal.NewFromInt(20))
	assert.ErrorIs(t, err, domain.ErrInvalidProductClass)

	_, err = e.RegisterRevenueModel(ctx, "class", decimal.NewFromInt(101))
	assert.ErrorIs(t, err, domain.ErrInvalidRevenueShare)

	_, err = e.RegisterRevenueModel(ctx, "class", decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidRevenueShare)
	assert.Len(t, rec.RevenueModels(), 1)
}
