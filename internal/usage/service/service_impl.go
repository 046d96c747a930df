package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	obslogger "github.com/smallbiznis/chargeflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	usagedomain "github.com/smallbiznis/chargeflow/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// includeAttempts bounds how often an inclusion is re-validated after another
// writer changed the contract between read and write.
const includeAttempts = 3

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Purchases  purchasedomain.Repository
	Charging   *obsmetrics.ChargingMetrics `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	purchases  purchasedomain.Repository
	charging   *obsmetrics.ChargingMetrics
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		purchases:  p.Purchases,
		charging:   p.Charging,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Include(ctx context.Context, req usagedomain.IncludeRequest) (*purchasedomain.SDR, error) {
	purchaseID, err := snowflake.ParseString(strings.TrimSpace(req.PurchaseID))
	if err != nil {
		return nil, usagedomain.ErrInvalidPurchaseID
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("purchase_id", req.PurchaseID),
		zap.String("correlation_number", req.SDR.CorrelationNumber.String()),
	)

	var accepted purchasedomain.SDR
	for attempt := 1; ; attempt++ {
		accepted, err = s.include(ctx, purchaseID, req.SDR)
		if !errors.Is(err, purchasedomain.ErrContractChanged) || attempt == includeAttempts {
			break
		}
		log.Debug("contract changed during sdr inclusion, retrying", zap.Int("attempt", attempt))
	}
	if err != nil {
		reason := rejectReason(err)
		s.charging.IncSDRInclude(obsmetrics.ResultRejected, reason)
		s.obsMetrics.RecordSDRIngest(ctx, obsmetrics.ResultRejected)
		log.Info("sdr rejected", zap.String("reason", reason), zap.Error(err))
		return nil, err
	}

	s.charging.IncSDRInclude(obsmetrics.ResultAccepted, "")
	s.obsMetrics.RecordSDRIngest(ctx, obsmetrics.ResultAccepted)
	log.Debug("sdr accepted", zap.String("value", accepted.Value.String()))
	return &accepted, nil
}

func (s *Service) include(ctx context.Context, purchaseID snowflake.ID, in usagedomain.SDRInput) (purchasedomain.SDR, error) {
	var accepted purchasedomain.SDR
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		purchase, err := s.purchases.GetForUpdate(ctx, tx, purchaseID)
		if err != nil {
			return err
		}

		sdr, err := s.validate(ctx, tx, purchase, in)
		if err != nil {
			return err
		}

		contract := purchase.Contract
		contract.PendingSDRs = append(contract.PendingSDRs, sdr)
		if err := s.purchases.SavePendingSDRs(ctx, tx, contract); err != nil {
			return err
		}
		accepted = sdr
		return nil
	})
	return accepted, err
}

func (s *Service) validate(ctx context.Context, tx *gorm.DB, purchase *purchasedomain.Purchase, in usagedomain.SDRInput) (purchasedomain.SDR, error) {
	owned, err := s.ownedBy(ctx, tx, purchase, strings.TrimSpace(in.Customer))
	if err != nil {
		return purchasedomain.SDR{}, err
	}
	if !owned {
		return purchasedomain.SDR{}, usagedomain.ErrNotPurchased
	}

	contract := purchase.Contract
	if !contract.Model().HasPayPerUse() {
		return purchasedomain.SDR{}, usagedomain.ErrNoPayPerUse
	}

	if !purchase.Offering.Matches(in.Offering) {
		return purchasedomain.SDR{}, usagedomain.ErrOfferingMismatch
	}

	ts, err := usagedomain.ParseTimestamp(in.TimeStamp)
	if err != nil {
		return purchasedomain.SDR{}, err
	}
	if last := contract.LastTimeStamp(); !last.IsZero() && ts.Before(last) {
		return purchasedomain.SDR{}, usagedomain.ErrInvalidTimestamp
	}

	expected := contract.LastCorrelation() + 1
	correlation, err := strconv.Atoi(strings.TrimSpace(in.CorrelationNumber.String()))
	if err != nil || correlation != expected {
		return purchasedomain.SDR{}, &usagedomain.CorrelationError{Expected: expected}
	}

	return purchasedomain.SDR{
		Offering:          in.Offering,
		ComponentLabel:    strings.TrimSpace(in.ComponentLabel),
		Customer:          strings.TrimSpace(in.Customer),
		CorrelationNumber: correlation,
		TimeStamp:         ts,
		RecordType:        strings.TrimSpace(in.RecordType),
		Value:             in.Value,
		Unit:              strings.TrimSpace(in.Unit),
	}, nil
}

// ownedBy matches the submitter against the buyer, or for organization-owned
// purchases against the owning organization and its members.
func (s *Service) ownedBy(ctx context.Context, tx *gorm.DB, purchase *purchasedomain.Purchase, customer string) (bool, error) {
	if customer == "" {
		return false, nil
	}
	if !purchase.OrganizationOwned {
		return customer == purchase.Customer, nil
	}
	if customer == purchase.OwnerOrganization {
		return true, nil
	}
	return s.purchases.IsMember(ctx, tx, purchase.OwnerOrganization, customer)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, usagedomain.ErrNotPurchased):
		return "not_purchased"
	case errors.Is(err, usagedomain.ErrNoPayPerUse):
		return "no_pay_per_use"
	case errors.Is(err, usagedomain.ErrOfferingMismatch):
		return "offering_mismatch"
	case errors.Is(err, usagedomain.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, usagedomain.ErrInvalidCorrelation):
		return "invalid_correlation"
	case errors.Is(err, purchasedomain.ErrContractChanged):
		return "contract_changed"
	case errors.Is(err, purchasedomain.ErrPurchaseNotFound),
		errors.Is(err, usagedomain.ErrInvalidPurchaseID):
		return "purchase_not_found"
	default:
		return "internal"
	}
}
