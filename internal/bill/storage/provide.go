package storage

import (
	"strings"

	billdomain "github.com/smallbiznis/chargeflow/internal/bill/domain"
	"github.com/smallbiznis/chargeflow/internal/config"
	"go.uber.org/zap"
)

// Provide picks the backend named by BILL_STORAGE_DRIVER.
func Provide(cfg config.Config, log *zap.Logger) (billdomain.Storage, error) {
	storageCfg := cfg.BillStorage
	switch strings.ToLower(strings.TrimSpace(storageCfg.Driver)) {
	case "s3":
		if strings.TrimSpace(storageCfg.Bucket) == "" {
			return nil, billdomain.ErrStorageNotSetup
		}
		log.Named("bill.storage").Info("using s3 bill storage", zap.String("bucket", storageCfg.Bucket))
		return NewS3(storageCfg)
	case "", "local":
		return NewLocal(storageCfg.LocalDir, storageCfg.PublicBaseURL), nil
	default:
		return nil, billdomain.ErrStorageNotSetup
	}
}
