package redirect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	obstracing "github.com/smallbiznis/chargeflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	apiVersion       = "204"
	maxResponseBytes = 64 << 10
)

// Factory builds gateways speaking the name-value-pair express checkout
// protocol. One factory is registered per gateway kind.
type Factory struct {
	kind string
}

func NewFactory(kind string) *Factory {
	return &Factory{kind: kind}
}

func (f *Factory) Kind() string {
	return f.kind
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	if cfg.Endpoint == "" || cfg.CheckoutURL == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
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

type Gateway struct {
	cfg    paymentdomain.GatewayConfig
	client *http.Client
	log    *zap.Logger

	token string
}

func (g *Gateway) StartRedirectionPayment(ctx context.Context, req paymentdomain.RedirectRequest) (string, error) {
	form := g.baseForm("SetExpressCheckout")
	form.Set("PAYMENTREQUEST_0_PAYMENTACTION", "Sale")
	form.Set("PAYMENTREQUEST_0_AMT", formatAmount(req.Price))
	form.Set("PAYMENTREQUEST_0_CURRENCYCODE", strings.ToUpper(req.Currency))
	form.Set("PAYMENTREQUEST_0_DESC", req.Concept)
	form.Set("PAYMENTREQUEST_0_CUSTOM", req.PurchaseID)
	form.Set("RETURNURL", withPurchase(g.cfg.ReturnURL, req.PurchaseID))
	form.Set("CANCELURL", withPurchase(g.cfg.CancelURL, req.PurchaseID))
	form.Set("NOSHIPPING", "1")

	values, err := g.call(ctx, form)
	if err != nil {
		return "", err
	}
	token := values.Get("TOKEN")
	if token == "" {
		return "", paymentdomain.ErrMissingToken
	}
	g.token = token
	return token, nil
}

func (g *Gateway) GetCheckoutURL() string {
	if g.token == "" {
		return ""
	}
	checkout, err := url.Parse(g.cfg.CheckoutURL)
	if err != nil {
		return ""
	}
	q := checkout.Query()
	q.Set("cmd", "_express-checkout")
	q.Set("token", g.token)
	checkout.RawQuery = q.Encode()
	return checkout.String()
}

func (g *Gateway) EndRedirectionPayment(ctx context.Context, completion paymentdomain.Completion) error {
	if strings.TrimSpace(completion.Token) == "" {
		return paymentdomain.ErrMissingToken
	}
	form := g.baseForm("DoExpressCheckoutPayment")
	form.Set("TOKEN", completion.Token)
	form.Set("PAYERID", completion.PayerID)
	form.Set("PAYMENTREQUEST_0_PAYMENTACTION", "Sale")
	form.Set("PAYMENTREQUEST_0_AMT", formatAmount(completion.Price))
	form.Set("PAYMENTREQUEST_0_CURRENCYCODE", strings.ToUpper(completion.Currency))

	values, err := g.call(ctx, form)
	if err != nil {
		return err
	}
	g.log.Debug("redirect payment captured",
		zap.String("transaction_id", values.Get("PAYMENTINFO_0_TRANSACTIONID")),
	)
	return nil
}

func (g *Gateway) DirectPayment(context.Context, string, decimal.Decimal, paymentdomain.Card) error {
	return paymentdomain.ErrUnsupportedFlow
}

func (g *Gateway) baseForm(method string) url.Values {
	form := url.Values{}
	form.Set("METHOD", method)
	form.Set("VERSION", apiVersion)
	form.Set("USER", g.cfg.ClientID)
	form.Set("PWD", g.cfg.Secret)
	return form
}

func (g *Gateway) call(ctx context.Context, form url.Values) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s: http status %d", form.Get("METHOD"), resp.StatusCode)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%s: malformed response: %w", form.Get("METHOD"), err)
	}
	switch strings.ToLower(values.Get("ACK")) {
	case "success", "successwithwarning":
		return values, nil
	default:
		msg := values.Get("L_LONGMESSAGE0")
		if msg == "" {
			msg = values.Get("L_SHORTMESSAGE0")
		}
		return nil, fmt.Errorf("%s rejected: %s", form.Get("METHOD"), msg)
	}
}

func withPurchase(raw, purchaseID string) string {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return raw
	}
	q := u.Query()
	q.Set("purchase_id", purchaseID)
	u.RawQuery = q.Encode()
	return u.String()
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
