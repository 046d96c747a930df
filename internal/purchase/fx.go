package purchase

import (
	"github.com/smallbiznis/chargeflow/internal/purchase/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.repository",
	fx.Provide(repository.Provide),
)
