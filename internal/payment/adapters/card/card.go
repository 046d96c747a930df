package card

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	obstracing "github.com/smallbiznis/chargeflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"go.uber.org/zap"
)

const maxResponseBytes = 64 << 10

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Kind() string {
	return paymentdomain.GatewayCard
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	client := cfg.HTTPClient
	if client == nil {
		client = obstracing.WrapHTTPClient(http.DefaultClient)
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{cfg: cfg, client: client, log: log}, nil
}

// Gateway captures stored cards with one JSON call.
type Gateway struct {
	cfg    paymentdomain.GatewayConfig
	client *http.Client
	log    *zap.Logger
}

// paymentRequest carries either the raw card or, for a card on file, only
// the processor's token.
type paymentRequest struct {
	Intent    string              `json:"intent"`
	Amount    string              `json:"amount"`
	Currency  string              `json:"currency"`
	Card      *paymentdomain.Card `json:"card,omitempty"`
	CardToken string              `json:"card_token,omitempty"`
}

type paymentResponse struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Message string `json:"message"`
}

func (g *Gateway) DirectPayment(ctx context.Context, currency string, price decimal.Decimal, card paymentdomain.Card) error {
	body := paymentRequest{
		Intent:   "sale",
		Amount:   price.StringFixed(2),
		Currency: strings.ToUpper(currency),
	}
	switch {
	case strings.TrimSpace(card.Number) != "":
		body.Card = &card
	case strings.TrimSpace(card.Token) != "":
		body.CardToken = card.Token
	default:
		return paymentdomain.ErrCardRequired
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := strings.TrimRight(g.cfg.Endpoint, "/") + "/payments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	req.SetBasicAuth(g.cfg.ClientID, g.cfg.Secret)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	var out paymentResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("card payment: malformed response: %w", err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return fmt.Errorf("card payment rejected: %s", out.Message)
		}
		return fmt.Errorf("card payment: http status %d", resp.StatusCode)
	}
	if state := strings.ToLower(out.State); state != "" && state != "approved" && state != "completed" {
		return fmt.Errorf("card payment not approved: %s", out.State)
	}

	g.log.Debug("card payment captured",
		zap.String("payment_id", out.ID),
		zap.String("card", card.Masked()),
	)
	return nil
}

func (g *Gateway) StartRedirectionPayment(context.Context, paymentdomain.RedirectRequest) (string, error) {
	return "", paymentdomain.ErrUnsupportedFlow
}

func (g *Gateway) GetCheckoutURL() string {
	return ""
}

func (g *Gateway) EndRedirectionPayment(context.Context, paymentdomain.Completion) error {
	return paymentdomain.ErrUnsupportedFlow
}
