package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

type MethodKind string

const (
	MethodNone     MethodKind = "none"
	MethodCard     MethodKind = "credit_card"
	MethodRedirect MethodKind = "redirect"
)

const (
	GatewayPayPal = "paypal"
	GatewayFiPay  = "fipay"
	GatewayCard   = "card"
)

// Card is a credit card as sent to the processor. Either Number or the
// processor's Token identifies it. It is never persisted or logged.
type Card struct {
	Type        string `json:"type"`
	Number      string `json:"number,omitempty"`
	Token       string `json:"token,omitempty"`
	ExpireMonth int    `json:"expire_month"`
	ExpireYear  int    `json:"expire_year"`
	CVV2        string `json:"cvv2"`
	HolderName  string `json:"holder_name,omitempty"`
}

// Masked returns the last four digits for logs and bills.
func (c Card) Masked() string {
	n := strings.TrimSpace(c.Number)
	if n == "" {
		n = strings.TrimSpace(c.Token)
	}
	if len(n) <= 4 {
		return n
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}

// Method selects how a charge is paid. It is resolved once per purchase.
type Method struct {
	Kind    MethodKind
	Gateway string
	Card    *Card
}

func CardMethod(card Card) Method {
	return Method{Kind: MethodCard, Gateway: GatewayCard, Card: &card}
}

func RedirectMethod(gateway string) Method {
	return Method{Kind: MethodRedirect, Gateway: strings.ToLower(strings.TrimSpace(gateway))}
}

func NoMethod() Method {
	return Method{Kind: MethodNone}
}

func (m Method) IsSync() bool {
	return m.Kind == MethodCard
}

// ParseMethod maps the request form of a payment method onto a Method.
// "credit_card" needs a card number or token; "paypal" and "fipay" name redirect gateways;
// "redirect" uses the given gateway. An empty method falls back to def.
func ParseMethod(raw, gateway string, card *Card, def string) (Method, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		raw = strings.ToLower(strings.TrimSpace(def))
	}

	switch raw {
	case "", string(MethodNone):
		return NoMethod(), nil
	case string(MethodCard), GatewayCard:
		if card == nil || (strings.TrimSpace(card.Number) == "" && strings.TrimSpace(card.Token) == "") {
			return Method{}, ErrCardRequired
		}
		return CardMethod(*card), nil
	case GatewayPayPal, GatewayFiPay:
		return RedirectMethod(raw), nil
	case string(MethodRedirect):
		if strings.TrimSpace(gateway) == "" {
			return Method{}, ErrGatewayRequired
		}
		return RedirectMethod(gateway), nil
	default:
		return Method{}, ErrInvalidPaymentMethod
	}
}

// RedirectRequest opens an asynchronous payment.
type RedirectRequest struct {
	PurchaseID string
	Concept    string
	Price      decimal.Decimal
	Currency   string
}

// Completion closes an asynchronous payment the customer approved.
type Completion struct {
	Token    string
	PayerID  string
	Price    decimal.Decimal
	Currency string
}
