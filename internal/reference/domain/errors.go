package domain

import "errors"

var (
	ErrCountryNotFound  = errors.New("country_not_found")
	ErrCurrencyNotFound = errors.New("currency_not_found")
)
