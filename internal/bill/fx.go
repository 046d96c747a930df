package bill

import (
	"github.com/smallbiznis/chargeflow/internal/bill/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("bill",
	fx.Provide(storage.Provide),
	fx.Provide(NewIssuer),
)
