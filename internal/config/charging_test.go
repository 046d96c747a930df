package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChargingConfig(t *testing.T) {
	valid := DefaultChargingConfig()
	require.NoError(t, validateChargingConfig(valid))

	tests := []struct {
		name   string
		mutate func(*ChargingConfig)
	}{
		{name: "empty store name", mutate: func(c *ChargingConfig) { c.StoreName = " " }},
		{name: "zero timeout", mutate: func(c *ChargingConfig) { c.PaymentTimeout = 0 }},
		{name: "empty cron", mutate: func(c *ChargingConfig) { c.ReconcileCron = "" }},
		{name: "no intervals", mutate: func(c *ChargingConfig) { c.RenewalIntervals = nil }},
		{name: "blank interval", mutate: func(c *ChargingConfig) { c.RenewalIntervals = map[string]string{"per month": ""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultChargingConfig()
			tt.mutate(&cfg)
			assert.Error(t, validateChargingConfig(cfg))
		})
	}
}

func TestChargingConfigHolder_Static(t *testing.T) {
	cfg := DefaultChargingConfig()
	cfg.PaymentTimeout = 2 * time.Minute
	holder := NewStaticChargingConfigHolder(cfg)

	got := holder.Get()
	assert.Equal(t, 2*time.Minute, got.PaymentTimeout)
	assert.Equal(t, "wstore", got.ProviderName())
	assert.Equal(t, "0 5 * * *", got.ReconcileCron)
}
