package domain

import "context"

type Repository interface {
	ListCountries(ctx context.Context) ([]Country, error)
	ListCurrencies(ctx context.Context) ([]Currency, error)
	// FindCountry matches the ISO code or the English name, case-insensitively.
	FindCountry(ctx context.Context, key string) (*Country, error)
	FindCurrency(ctx context.Context, code string) (*Currency, error)
}
