package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	purchaserepo "github.com/smallbiznis/chargeflow/internal/purchase/repository"
	usagedomain "github.com/smallbiznis/chargeflow/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	repo    purchasedomain.Repository
	svc     usagedomain.Service
	metrics *obsmetrics.ChargingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&purchasedomain.Purchase{},
		&purchasedomain.Contract{},
		&purchasedomain.OrganizationMember{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := purchaserepo.Provide()
	metrics := obsmetrics.NewChargingMetricsForTest(prometheus.NewRegistry())

	return &fixture{
		db:      db,
		node:    node,
		repo:    repo,
		metrics: metrics,
		svc: NewService(ServiceParam{
			DB:        db,
			Log:       zap.NewNop(),
			Purchases: repo,
			Charging:  metrics,
		}),
	}
}

func (f *fixture) purchase(t *testing.T, mutate func(*purchasedomain.Purchase)) *purchasedomain.Purchase {
	t.Helper()
	p := &purchasedomain.Purchase{
		ID:       f.node.Generate(),
		Customer: "test_user",
		Offering: purchasedomain.Offering{
			Name:         "test_offering",
			Organization: "test_organization",
			Version:      "1.0",
		},
		State:    purchasedomain.StatePaid,
		Contract: &purchasedomain.Contract{ID: f.node.Generate()},
	}
	p.Contract.SetModel(purchasedomain.PricingModel{
		PayPerUse: []purchasedomain.Component{{
			Title:    "api call",
			Value:    decimal.NewFromInt(1),
			Unit:     "invocation",
			Currency: "EUR",
		}},
	})
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, f.repo.Create(context.Background(), f.db, p))
	return p
}

func validSDR(correlation int, ts string) usagedomain.SDRInput {
	return usagedomain.SDRInput{
		Offering: purchasedomain.OfferingRef{
			Name:         "test_offering",
			Organization: "test_organization",
			Version:      "1.0",
		},
		ComponentLabel:    "calls",
		Customer:          "test_user",
		CorrelationNumber: json.Number(fmt.Sprint(correlation)),
		TimeStamp:         ts,
		RecordType:        "event",
		Value:             decimal.NewFromInt(1),
		Unit:              "invocation",
	}
}

func TestInclude_AcceptsContiguousSequence(t *testing.T) {
	f := newFixture(t)
	p := f.purchase(t, nil)
	ctx := context.Background()

	for i, ts := range []string{"2015-10-20 17:31:57.100", "2015-10-20 17:32:57", "2015-10-21T09:00:00Z"} {
		sdr, err := f.svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: validSDR(i+1, ts)})
		require.NoError(t, err)
		assert.Equal(t, i+1, sdr.CorrelationNumber)
	}

	got, err := f.repo.Get(ctx, f.db, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Contract.PendingSDRs, 3)
	assert.Empty(t, got.Contract.Charges)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.SDRIncludeCount(obsmetrics.ResultAccepted, "")))
}

func TestInclude_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*purchasedomain.Purchase)
		sdr     func() usagedomain.SDRInput
		wantErr error
		wantMsg string
	}{
		{
			name: "other customer",
			sdr: func() usagedomain.SDRInput {
				in := validSDR(1, "2015-10-20 17:31:57.100")
				in.Customer = "test_user2"
				return in
			},
			wantErr: usagedomain.ErrNotPurchased,
			wantMsg: "The user has not purchased the offering",
		},
		{
			name: "ownership checked before pricing model",
			mutate: func(p *purchasedomain.Purchase) {
				p.Contract.SetModel(purchasedomain.PricingModel{})
			},
			sdr: func() usagedomain.SDRInput {
				in := validSDR(1, "invalid")
				in.Customer = "test_user2"
				return in
			},
			wantErr: usagedomain.ErrNotPurchased,
		},
		{
			name: "no pay per use",
			mutate: func(p *purchasedomain.Purchase) {
				p.Contract.SetModel(purchasedomain.PricingModel{
					SinglePayment: []purchasedomain.Component{{Value: decimal.NewFromInt(5), Currency: "EUR"}},
				})
			},
			sdr:     func() usagedomain.SDRInput { return validSDR(1, "2015-10-20 17:31:57.100") },
			wantErr: usagedomain.ErrNoPayPerUse,
			wantMsg: "No pay per use parts in the pricing model of the offering",
		},
		{
			name: "offering mismatch",
			sdr: func() usagedomain.SDRInput {
				in := validSDR(1, "2015-10-20 17:31:57.100")
				in.Offering.Version = "2.0"
				return in
			},
			wantErr: usagedomain.ErrOfferingMismatch,
			wantMsg: "The offering defined in the SDR is not the purchase offering",
		},
		{
			name:    "bad time stamp",
			sdr:     func() usagedomain.SDRInput { return validSDR(1, "invalid") },
			wantErr: usagedomain.ErrInvalidTimestamp,
			wantMsg: "Invalid time stamp",
		},
		{
			name:    "bad correlation",
			sdr:     func() usagedomain.SDRInput { return validSDR(2, "2015-10-20 17:31:57.100") },
			wantErr: usagedomain.ErrInvalidCorrelation,
			wantMsg: "Invalid correlation number, expected: 1",
		},
		{
			name: "non numeric correlation",
			sdr: func() usagedomain.SDRInput {
				in := validSDR(1, "2015-10-20 17:31:57.100")
				in.CorrelationNumber = json.Number("x")
				return in
			},
			wantErr: usagedomain.ErrInvalidCorrelation,
			wantMsg: "Invalid correlation number, expected: 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.purchase(t, tt.mutate)

			_, err := f.svc.Include(context.Background(), usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: tt.sdr()})
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.EqualError(t, err, tt.wantMsg)
			}

			got, err := f.repo.Get(context.Background(), f.db, p.ID)
			require.NoError(t, err)
			assert.Empty(t, got.Contract.PendingSDRs)
		})
	}
}

func TestInclude_ExpectedCorrelationCountsAppliedRecords(t *testing.T) {
	f := newFixture(t)
	p := f.purchase(t, func(p *purchasedomain.Purchase) {
		ts, _ := usagedomain.ParseTimestamp("2015-10-20 17:31:57.100")
		p.Contract.AppliedSDRs = []purchasedomain.SDR{{CorrelationNumber: 1, TimeStamp: ts}, {CorrelationNumber: 2, TimeStamp: ts}}
		p.Contract.PendingSDRs = []purchasedomain.SDR{{CorrelationNumber: 3, TimeStamp: ts}}
	})

	_, err := f.svc.Include(context.Background(), usagedomain.IncludeRequest{
		PurchaseID: p.ID.String(),
		SDR:        validSDR(3, "2015-10-20 17:40:00"),
	})
	var corrErr *usagedomain.CorrelationError
	require.ErrorAs(t, err, &corrErr)
	assert.Equal(t, 4, corrErr.Expected)

	_, err = f.svc.Include(context.Background(), usagedomain.IncludeRequest{
		PurchaseID: p.ID.String(),
		SDR:        validSDR(4, "2015-10-20 17:40:00"),
	})
	require.NoError(t, err)
}

func TestInclude_RejectsEarlierTimestamp(t *testing.T) {
	f := newFixture(t)
	p := f.purchase(t, nil)
	ctx := context.Background()

	_, err := f.svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: validSDR(1, "2015-10-20 17:31:57")})
	require.NoError(t, err)

	_, err = f.svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: validSDR(2, "2015-10-20 17:00:00")})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidTimestamp)
}

func TestInclude_OrganizationOwnedPurchase(t *testing.T) {
	f := newFixture(t)
	p := f.purchase(t, func(p *purchasedomain.Purchase) {
		p.OrganizationOwned = true
		p.OwnerOrganization = "test_org"
	})
	require.NoError(t, f.db.Create(&purchasedomain.OrganizationMember{Organization: "test_org", Username: "member"}).Error)
	ctx := context.Background()

	in := validSDR(1, "2015-10-20 17:31:57.100")
	in.Customer = "member"
	_, err := f.svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: in})
	require.NoError(t, err)

	in = validSDR(2, "2015-10-20 17:31:58")
	in.Customer = "test_org"
	_, err = f.svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: in})
	require.NoError(t, err)

	in = validSDR(3, "2015-10-20 17:31:59")
	in.Customer = "outsider"
	_, err = f.svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: in})
	assert.ErrorIs(t, err, usagedomain.ErrNotPurchased)
}

func TestInclude_UnknownPurchase(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Include(context.Background(), usagedomain.IncludeRequest{PurchaseID: "12345", SDR: validSDR(1, "2015-10-20 17:31:57")})
	assert.ErrorIs(t, err, purchasedomain.ErrPurchaseNotFound)

	_, err = f.svc.Include(context.Background(), usagedomain.IncludeRequest{PurchaseID: "not-an-id", SDR: validSDR(1, "2015-10-20 17:31:57")})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidPurchaseID)
}

// staleReadRepo serves one snapshot taken before another writer committed,
// as a read racing that commit would see it.
type staleReadRepo struct {
	purchasedomain.Repository
	stale *purchasedomain.Purchase
}

func (r *staleReadRepo) GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*purchasedomain.Purchase, error) {
	if stale := r.stale; stale != nil {
		r.stale = nil
		return stale, nil
	}
	return r.Repository.GetForUpdate(ctx, db, id)
}

func TestInclude_KeepsChargesCommittedDuringInclusion(t *testing.T) {
	f := newFixture(t)
	p := f.purchase(t, nil)
	ctx := context.Background()

	_, err := f.svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: validSDR(1, "2015-10-20 17:31:57")})
	require.NoError(t, err)

	stale, err := f.repo.Get(ctx, f.db, p.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.ApplyCommit(ctx, f.db, purchasedomain.Commit{
		PurchaseID:  p.ID,
		Charges:     []purchasedomain.Charge{{Cost: decimal.NewFromInt(1), Currency: "EUR", Concept: "pay per use"}},
		Bill:        "bill-1",
		SettledSDRs: []int{1},
		Unlock:      true,
	}))

	repo := &staleReadRepo{Repository: f.repo, stale: stale}
	svc := NewService(ServiceParam{DB: f.db, Log: zap.NewNop(), Purchases: repo, Charging: f.metrics})

	sdr, err := svc.Include(ctx, usagedomain.IncludeRequest{PurchaseID: p.ID.String(), SDR: validSDR(2, "2015-10-20 17:32:57")})
	require.NoError(t, err)
	assert.Equal(t, 2, sdr.CorrelationNumber)

	got, err := f.repo.Get(ctx, f.db, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Contract.Charges, 1)
	assert.Equal(t, []string{"bill-1"}, []string(got.Bills))
	require.Len(t, got.Contract.AppliedSDRs, 1)
	assert.Equal(t, 1, got.Contract.AppliedSDRs[0].CorrelationNumber)
	require.Len(t, got.Contract.PendingSDRs, 1, "a settled record must not come back as pending")
	assert.Equal(t, 2, got.Contract.PendingSDRs[0].CorrelationNumber)
}

func TestSavePendingSDRs_RejectsStaleRevision(t *testing.T) {
	f := newFixture(t)
	p := f.purchase(t, nil)
	ctx := context.Background()

	stale, err := f.repo.Get(ctx, f.db, p.ID)
	require.NoError(t, err)
	fresh, err := f.repo.Get(ctx, f.db, p.ID)
	require.NoError(t, err)

	fresh.Contract.PendingSDRs = append(fresh.Contract.PendingSDRs, purchasedomain.SDR{CorrelationNumber: 1})
	require.NoError(t, f.repo.SavePendingSDRs(ctx, f.db, fresh.Contract))

	stale.Contract.PendingSDRs = append(stale.Contract.PendingSDRs, purchasedomain.SDR{CorrelationNumber: 7})
	assert.ErrorIs(t, f.repo.SavePendingSDRs(ctx, f.db, stale.Contract), purchasedomain.ErrContractChanged)

	got, err := f.repo.Get(ctx, f.db, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Contract.PendingSDRs, 1)
	assert.Equal(t, 1, got.Contract.PendingSDRs[0].CorrelationNumber)
}
