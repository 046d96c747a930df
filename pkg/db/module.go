package db

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/chargeflow/internal/config"
	obslogger "github.com/smallbiznis/chargeflow/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(FromAppConfig),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	AppConfig config.Config
	Log       *zap.Logger
}

// New opens the gorm connection with zap logging, tracing and pool metrics.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Config)
	if err != nil {
		return nil, err
	}

	queryLogCfg, err := queryLogConfig(p.Config, p.AppConfig.IsProduction())
	if err != nil {
		return nil, err
	}
	queryLogCfg.Base = p.Log.Named("db.query")

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewQueryLogger(queryLogCfg),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Config.Name))); err != nil {
		return nil, fmt.Errorf("register otelgorm: %w", err)
	}

	promCfg := gormprometheus.Config{
		DBName:          p.Config.Name,
		RefreshInterval: 15,
		StartServer:     false,
	}
	if p.Config.Type == "mysql" {
		promCfg.MetricsCollector = []gormprometheus.MetricsCollector{
			&gormprometheus.MySQL{VariableNames: []string{"Threads_running"}},
		}
	}
	if err := conn.Use(gormprometheus.New(promCfg)); err != nil {
		return nil, fmt.Errorf("register gorm prometheus: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if p.Config.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(p.Config.MaxIdleConn)
	}
	if p.Config.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(p.Config.MaxOpenConn)
	}
	if p.Config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(p.Config.ConnMaxLifetime) * time.Second)
	}
	if p.Config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(p.Config.ConnMaxIdleTime) * time.Second)
	}

	log := p.Log.Named("db")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}
			log.Info("database connected",
				zap.String("type", p.Config.Type),
				zap.String("host", p.Config.Host),
				zap.String("name", p.Config.Name),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("closing database")
			return sqlDB.Close()
		},
	})

	return conn, nil
}

// queryLogConfig resolves the SQL log level and slow threshold. Outside
// production the threshold defaults looser to tolerate local databases.
func queryLogConfig(cfg Config, production bool) (obslogger.QueryLogConfig, error) {
	out := obslogger.DefaultQueryLogConfig()
	if cfg.LogLevel != "" {
		level, err := obslogger.ParseQueryLogLevel(cfg.LogLevel)
		if err != nil {
			return out, err
		}
		out.Level = level
	}
	switch {
	case cfg.SlowQueryMs > 0:
		out.SlowThreshold = time.Duration(cfg.SlowQueryMs) * time.Millisecond
	case !production:
		out.SlowThreshold = 500 * time.Millisecond
	}
	return out, nil
}
