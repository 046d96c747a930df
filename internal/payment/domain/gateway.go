package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is one payment client, opened per charge. Redirect gateways
// implement the redirection calls and card gateways DirectPayment; the
// others return ErrUnsupportedFlow.
type Gateway interface {
	// StartRedirectionPayment registers the payment and returns its token.
	StartRedirectionPayment(ctx context.Context, req RedirectRequest) (string, error)
	// GetCheckoutURL is where the customer approves the started payment.
	GetCheckoutURL() string
	EndRedirectionPayment(ctx context.Context, completion Completion) error
	DirectPayment(ctx context.Context, currency string, price decimal.Decimal, card Card) error
}

// Factory builds gateways of one kind.
type Factory interface {
	Kind() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}
