package domain

import "errors"

var (
	ErrMissingPurchase = errors.New("bill_missing_purchase")
	ErrStorageNotSetup = errors.New("bill_storage_not_configured")
)
