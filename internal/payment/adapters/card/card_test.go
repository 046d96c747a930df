package card

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectPayment(t *testing.T) {
	var got paymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(paymentResponse{ID: "PAY-1", State: "approved"})
	}))
	defer srv.Close()

	gw, err := NewFactory().NewGateway(paymentdomain.GatewayConfig{
		Endpoint:   srv.URL,
		ClientID:   "client",
		Secret:     "secret",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	card := paymentdomain.Card{Type: "visa", Number: "4111111111111111", ExpireMonth: 5, ExpireYear: 2030, CVV2: "111"}
	require.NoError(t, gw.DirectPayment(context.Background(), "eur", decimal.NewFromInt(5), card))
	assert.Equal(t, "5.00", got.Amount)
	assert.Equal(t, "EUR", got.Currency)
	require.NotNil(t, got.Card)
	assert.Equal(t, "4111111111111111", got.Card.Number)
	assert.Empty(t, got.CardToken)
}

func TestDirectPayment_CardOnFileSendsOnlyToken(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_ = json.NewEncoder(w).Encode(paymentResponse{ID: "PAY-2", State: "completed"})
	}))
	defer srv.Close()

	gw, err := NewFactory().NewGateway(paymentdomain.GatewayConfig{Endpoint: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	card := paymentdomain.Card{Type: "visa", Token: "card_tok_1111", ExpireMonth: 2, ExpireYear: 2018}
	require.NoError(t, gw.DirectPayment(context.Background(), "EUR", decimal.NewFromInt(15), card))
	assert.Equal(t, "card_tok_1111", raw["card_token"])
	assert.NotContains(t, raw, "card")
	assert.Equal(t, "15.00", raw["amount"])
}

func TestDirectPayment_RequiresNumberOrToken(t *testing.T) {
	gw, err := NewFactory().NewGateway(paymentdomain.GatewayConfig{Endpoint: "https://cards.example.com"})
	require.NoError(t, err)

	err = gw.DirectPayment(context.Background(), "EUR", decimal.NewFromInt(5), paymentdomain.Card{Type: "visa"})
	assert.ErrorIs(t, err, paymentdomain.ErrCardRequired)
}

func TestDirectPayment_Declined(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    paymentResponse
		wantMsg string
	}{
		{name: "http error with message", status: http.StatusPaymentRequired, body: paymentResponse{Message: "card declined"}, wantMsg: "card declined"},
		{name: "not approved", status: http.StatusOK, body: paymentResponse{State: "failed"}, wantMsg: "not approved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			gw, err := NewFactory().NewGateway(paymentdomain.GatewayConfig{Endpoint: srv.URL, HTTPClient: srv.Client()})
			require.NoError(t, err)
			err = gw.DirectPayment(context.Background(), "EUR", decimal.NewFromInt(5), paymentdomain.Card{Number: "4111"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCardGatewayHasNoRedirection(t *testing.T) {
	gw, err := NewFactory().NewGateway(paymentdomain.GatewayConfig{Endpoint: "https://cards.example.com"})
	require.NoError(t, err)

	_, err = gw.StartRedirectionPayment(context.Background(), paymentdomain.RedirectRequest{})
	assert.ErrorIs(t, err, paymentdomain.ErrUnsupportedFlow)
	assert.ErrorIs(t, gw.EndRedirectionPayment(context.Background(), paymentdomain.Completion{}), paymentdomain.ErrUnsupportedFlow)
	assert.Empty(t, gw.GetCheckoutURL())
}
