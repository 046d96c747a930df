package domain

import "context"

// Sink delivers accounting records to the external accounting system.
type Sink interface {
	SendCDRs(ctx context.Context, records []Record) error
	SendRevenueModel(ctx context.Context, model RevenueModel) error
}

type CountryLookup interface {
	CountryCode(ctx context.Context, country string) (string, error)
}

type CurrencyLookup interface {
	CurrencyCode(ctx context.Context, currency string) (string, error)
}
