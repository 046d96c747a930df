package domain

import "errors"

var (
	ErrNoSDRsToCharge        = errors.New("No SDRs to charge")
	ErrNothingToCharge       = errors.New("No charges due for the purchase")
	ErrPurchaseRolledBack    = errors.New("purchase_rolled_back")
	ErrPaymentInProgress     = errors.New("payment_in_progress")
	ErrNoPendingPayment      = errors.New("no_pending_payment")
	ErrTokenMismatch         = errors.New("payment_token_mismatch")
	ErrPaymentMethodRequired = errors.New("payment_method_required")
	ErrInvalidPurchaseID     = errors.New("invalid_purchase_id")
)
