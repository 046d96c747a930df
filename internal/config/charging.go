package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// GatewayConfig describes one payment gateway client.
type GatewayConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	CheckoutURL string `mapstructure:"checkout_url"`
	ClientID    string `mapstructure:"client_id"`
	Secret      string `mapstructure:"secret"`
	Sandbox     bool   `mapstructure:"sandbox"`
	ReturnURL   string `mapstructure:"return_url"`
	CancelURL   string `mapstructure:"cancel_url"`
}

// ChargingConfig is the hot-reloadable part of the configuration, read from
// charging.yml.
type ChargingConfig struct {
	StoreName            string                   `mapstructure:"store_name"`
	PaymentTimeout       time.Duration            `mapstructure:"payment_timeout"`
	ReconcileCron        string                   `mapstructure:"reconcile_cron"`
	ContractTimeout      time.Duration            `mapstructure:"contract_timeout"`
	DefaultPaymentMethod string                   `mapstructure:"default_payment_method"`
	RenewalIntervals     map[string]string        `mapstructure:"renewal_intervals"`
	Gateways             map[string]GatewayConfig `mapstructure:"gateways"`
}

func DefaultChargingConfig() ChargingConfig {
	return ChargingConfig{
		StoreName:            "WStore",
		PaymentTimeout:       300 * time.Second,
		ReconcileCron:        "0 5 * * *",
		ContractTimeout:      30 * time.Second,
		DefaultPaymentMethod: "card",
		RenewalIntervals: map[string]string{
			"per day":   "1d",
			"per week":  "1w",
			"per month": "1mo",
			"per year":  "1y",
		},
		Gateways: map[string]GatewayConfig{
			"paypal": {
				Endpoint:    "https://api-3t.sandbox.paypal.com/nvp",
				CheckoutURL: "https://www.sandbox.paypal.com/cgi-bin/webscr",
				Sandbox:     true,
				ReturnURL:   "http://localhost:8080/api/payments/paypal/return",
				CancelURL:   "http://localhost:8080/api/payments/paypal/cancel",
			},
		},
	}
}

// ProviderName is the lower-cased store name used as CDR provider.
func (c ChargingConfig) ProviderName() string {
	return strings.ToLower(strings.TrimSpace(c.StoreName))
}

type ChargingConfigHolder struct {
	current atomic.Value // holds ChargingConfig
}

// NewStaticChargingConfigHolder wraps a fixed config, mostly for tests and the CLI.
func NewStaticChargingConfigHolder(cfg ChargingConfig) *ChargingConfigHolder {
	holder := &ChargingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewChargingConfigHolder(log *zap.Logger) (*ChargingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("charging.config")

	v := viper.New()

	v.SetConfigName("charging")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/chargeflow/config")
	v.AddConfigPath("/etc/chargeflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHARGEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultChargingConfig()
	v.SetDefault("charging.store_name", defaults.StoreName)
	v.SetDefault("charging.payment_timeout", defaults.PaymentTimeout)
	v.SetDefault("charging.reconcile_cron", defaults.ReconcileCron)
	v.SetDefault("charging.contract_timeout", defaults.ContractTimeout)
	v.SetDefault("charging.default_payment_method", defaults.DefaultPaymentMethod)
	v.SetDefault("charging.renewal_intervals", defaults.RenewalIntervals)
	v.SetDefault("charging.gateways", defaults.Gateways)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeChargingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticChargingConfigHolder(cfg)
	if !fileFound {
		log.Info("charging.yml not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeChargingConfig(v)
		if err != nil {
			log.Warn("charging config reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("charging config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ChargingConfigHolder) Get() ChargingConfig {
	return h.current.Load().(ChargingConfig)
}

func decodeChargingConfig(v *viper.Viper) (ChargingConfig, error) {
	var cfg ChargingConfig
	if err := v.UnmarshalKey("charging", &cfg); err != nil {
		return ChargingConfig{}, err
	}
	if err := validateChargingConfig(cfg); err != nil {
		return ChargingConfig{}, err
	}
	return cfg, nil
}

func validateChargingConfig(cfg ChargingConfig) error {
	if strings.TrimSpace(cfg.StoreName) == "" {
		return errors.New("charging.store_name cannot be empty")
	}
	if cfg.PaymentTimeout <= 0 {
		return errors.New("charging.payment_timeout must be positive")
	}
	if strings.TrimSpace(cfg.ReconcileCron) == "" {
		return errors.New("charging.reconcile_cron cannot be empty")
	}
	if len(cfg.RenewalIntervals) == 0 {
		return errors.New("charging.renewal_intervals cannot be empty")
	}
	for unit, interval := range cfg.RenewalIntervals {
		if strings.TrimSpace(interval) == "" {
			return fmt.Errorf("charging.renewal_intervals[%s] cannot be empty", unit)
		}
	}
	return nil
}
