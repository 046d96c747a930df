package domain

import "errors"

var (
	ErrInvalidProductClass = errors.New("Invalid product class")
	ErrInvalidRevenueShare = errors.New("Invalid revenue share percentage, must be between 0 and 100")
	ErrSinkUnavailable     = errors.New("accounting_sink_unavailable")
)
