package adapters

import (
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/chargeflow/internal/config"
	"github.com/smallbiznis/chargeflow/internal/payment/domain"
	"go.uber.org/zap"
)

const defaultHTTPTimeout = 30 * time.Second

// Registry opens gateways by kind with the settings currently in charging.yml.
type Registry struct {
	factories map[string]domain.Factory
	config    *config.ChargingConfigHolder
	client    *http.Client
	log       *zap.Logger
}

func NewRegistry(holder *config.ChargingConfigHolder, log *zap.Logger, factories ...domain.Factory) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	registry := &Registry{
		factories: map[string]domain.Factory{},
		config:    holder,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		log:       log.Named("payment.registry"),
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		kind := normalize(factory.Kind())
		if kind == "" {
			continue
		}
		registry.factories[kind] = factory
	}
	return registry
}

// WithHTTPClient replaces the client handed to gateways.
func (r *Registry) WithHTTPClient(client *http.Client) *Registry {
	if client != nil {
		r.client = client
	}
	return r
}

func (r *Registry) Exists(kind string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(kind)]
	return ok
}

func (r *Registry) Open(kind string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrGatewayNotFound
	}
	kind = normalize(kind)
	factory, ok := r.factories[kind]
	if !ok {
		return nil, domain.ErrGatewayNotFound
	}

	var settings config.GatewayConfig
	if r.config != nil {
		settings = r.config.Get().Gateways[kind]
	}
	return factory.NewGateway(domain.GatewayConfig{
		Kind:        kind,
		Endpoint:    strings.TrimSpace(settings.Endpoint),
		CheckoutURL: strings.TrimSpace(settings.CheckoutURL),
		ClientID:    settings.ClientID,
		Secret:      settings.Secret,
		Sandbox:     settings.Sandbox,
		ReturnURL:   settings.ReturnURL,
		CancelURL:   settings.CancelURL,
		HTTPClient:  r.client,
		Log:         r.log.With(zap.String("gateway", kind)),
	})
}

func normalize(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
