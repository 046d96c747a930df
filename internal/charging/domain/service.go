package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
)

const (
	ConceptInitialCharge = "initial charge"
	ConceptInitial       = "initial"
	ConceptRenovation    = "Renovation"
	ConceptPayPerUse     = "pay per use"
)

// ChargeRequest asks for the charges owed by one purchase. NewPurchase takes
// precedence over UseSDR; with neither set the call settles due renewals.
type ChargeRequest struct {
	PurchaseID  snowflake.ID
	Method      paymentdomain.Method
	NewPurchase bool
	UseSDR      bool
}

// Completion confirms an asynchronous payment the customer approved at the
// gateway.
type Completion struct {
	PurchaseID snowflake.ID
	Token      string
	PayerID    string
}

// Outcome reports a resolved charge. RedirectURL is set only while an
// asynchronous payment waits for the customer.
type Outcome struct {
	RedirectURL string          `json:"redirect_url,omitempty"`
	Concept     string          `json:"concept"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Bill        string          `json:"bill,omitempty"`
}

func (o *Outcome) Pending() bool {
	return o != nil && o.RedirectURL != ""
}

type Service interface {
	ResolveCharging(ctx context.Context, req ChargeRequest) (*Outcome, error)
	EndCharging(ctx context.Context, req Completion) (*Outcome, error)
	CancelCharging(ctx context.Context, purchaseID snowflake.ID) (bool, error)
}
