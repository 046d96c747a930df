package reference

import (
	"context"

	"github.com/smallbiznis/chargeflow/internal/cache"
	"github.com/smallbiznis/chargeflow/internal/reference/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type LookupParams struct {
	fx.In

	Log   *zap.Logger
	Repo  domain.Repository
	Cache cache.ReferenceCodeCache `optional:"true"`
}

// Lookup resolves the numeric country and currency codes written into CDRs.
type Lookup struct {
	log   *zap.Logger
	repo  domain.Repository
	cache cache.ReferenceCodeCache
}

func NewLookup(p LookupParams) *Lookup {
	codes := p.Cache
	if codes == nil {
		codes = cache.NewReferenceCodeCache()
	}
	return &Lookup{
		log:   p.Log.Named("reference.lookup"),
		repo:  p.Repo,
		cache: codes,
	}
}

func (l *Lookup) CountryCode(ctx context.Context, country string) (string, error) {
	if code, ok := l.cache.GetCountry(country); ok {
		return code, nil
	}

	found, err := l.repo.FindCountry(ctx, country)
	if err != nil {
		return "", err
	}
	l.cache.SetCountry(country, found.NumericCode)
	return found.NumericCode, nil
}

func (l *Lookup) CurrencyCode(ctx context.Context, currency string) (string, error) {
	if code, ok := l.cache.GetCurrency(currency); ok {
		return code, nil
	}

	found, err := l.repo.FindCurrency(ctx, currency)
	if err != nil {
		return "", err
	}
	l.cache.SetCurrency(currency, found.NumericCode)
	return found.NumericCode, nil
}
