package domain

import (
	"net/http"

	"go.uber.org/zap"
)

type GatewayConfig struct {
	Kind        string
	Endpoint    string
	CheckoutURL string
	ClientID    string
	Secret      string
	Sandbox     bool
	ReturnURL   string
	CancelURL   string

	HTTPClient *http.Client
	Log        *zap.Logger
}
