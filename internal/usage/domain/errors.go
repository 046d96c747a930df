package domain

import (
	"errors"
	"fmt"
)

// Messages are returned to SDR submitters verbatim.
var (
	ErrNotPurchased       = errors.New("The user has not purchased the offering")
	ErrNoPayPerUse        = errors.New("No pay per use parts in the pricing model of the offering")
	ErrOfferingMismatch   = errors.New("The offering defined in the SDR is not the purchase offering")
	ErrInvalidTimestamp   = errors.New("Invalid time stamp")
	ErrInvalidCorrelation = errors.New("Invalid correlation number")
	ErrInvalidPurchaseID  = errors.New("invalid_purchase_id")
)

// CorrelationError reports the correlation number the ledger expected next.
type CorrelationError struct {
	Expected int
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("Invalid correlation number, expected: %d", e.Expected)
}

func (e *CorrelationError) Is(target error) bool {
	return target == ErrInvalidCorrelation
}

// IsValidation reports errors caused by the submitted record itself.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoPayPerUse) ||
		errors.Is(err, ErrOfferingMismatch) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidCorrelation) ||
		errors.Is(err, ErrInvalidPurchaseID)
}
