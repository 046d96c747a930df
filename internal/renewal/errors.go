package renewal

import "errors"

var (
	ErrNoSubscriptions = errors.New("No subscriptions to renovate")
	ErrUnknownUnit     = errors.New("Unsupported renovation unit")
	ErrInvalidInterval = errors.New("invalid_renewal_interval")
)
