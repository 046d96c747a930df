package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/chargeflow/internal/config"
)

// Config controls the reconciliation schedule and its budgets.
type Config struct {
	Cron            string
	ContractTimeout time.Duration
	JobTimeout      time.Duration
	LockTTL         time.Duration
	EnabledJobs     []string
}

func DefaultConfig() Config {
	charging := config.DefaultChargingConfig()
	return Config{
		Cron:            charging.ReconcileCron,
		ContractTimeout: charging.ContractTimeout,
		JobTimeout:      30 * time.Minute,
		LockTTL:         time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Cron) == "" {
		c.Cron = defaults.Cron
	}
	if c.ContractTimeout <= 0 {
		c.ContractTimeout = defaults.ContractTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

// ProvideConfig reads the schedule from charging.yml. The holder is optional so
// the one-shot CLI can run on defaults.
func ProvideConfig(holder *config.ChargingConfigHolder) Config {
	if holder == nil {
		return DefaultConfig()
	}
	charging := holder.Get()
	return Config{
		Cron:            charging.ReconcileCron,
		ContractTimeout: charging.ContractTimeout,
	}.withDefaults()
}
