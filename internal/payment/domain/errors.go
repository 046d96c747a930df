package domain

import "errors"

var (
	ErrPaymentFailed        = errors.New("payment_failed")
	ErrGatewayNotFound      = errors.New("gateway_not_found")
	ErrInvalidConfig        = errors.New("invalid_gateway_config")
	ErrUnsupportedFlow      = errors.New("unsupported_payment_flow")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
	ErrCardRequired         = errors.New("credit card data is required")
	ErrGatewayRequired      = errors.New("gateway is required for redirect payments")
	ErrMissingToken         = errors.New("missing payment token")
	ErrCustomerRequired     = errors.New("customer is required")
	ErrCardTokenRequired    = errors.New("card token is required")
	ErrInvalidCardExpiry    = errors.New("invalid card expiry")
	ErrCardNotFound         = errors.New("card_not_found")
)
