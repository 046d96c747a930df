package domain

import "errors"

var (
	ErrPurchaseNotFound  = errors.New("purchase_not_found")
	ErrContractNotFound  = errors.New("contract_not_found")
	ErrContractLocked    = errors.New("contract_locked")
	ErrContractNotLocked = errors.New("contract_not_locked")
	ErrContractChanged   = errors.New("contract_changed")
)
