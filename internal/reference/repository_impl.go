package reference

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/chargeflow/internal/reference/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) ListCountries(ctx context.Context) ([]domain.Country, error) {
	var countries []domain.Country
	err := r.db.WithContext(ctx).
		Order("name").
		Find(&countries).Error
	if err != nil {
		return nil, err
	}
	return countries, nil
}

func (r *repository) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	var currencies []domain.Currency
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("code").
		Find(&currencies).Error
	if err != nil {
		return nil, err
	}
	return currencies, nil
}

func (r *repository) FindCountry(ctx context.Context, key string) (*domain.Country, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrCountryNotFound
	}

	var country domain.Country
	err := r.db.WithContext(ctx).
		Where("UPPER(code) = ? OR LOWER(name) = ?", strings.ToUpper(key), strings.ToLower(key)).
		First(&country).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCountryNotFound
		}
		return nil, err
	}
	return &country, nil
}

func (r *repository) FindCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrCurrencyNotFound
	}

	var currency domain.Currency
	err := r.db.WithContext(ctx).
		Where("code = ? AND is_active = ?", code, true).
		First(&currency).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCurrencyNotFound
		}
		return nil, err
	}
	return &currency, nil
}
