package domain

import (
	"context"

	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
)

type Service interface {
	// Include validates an SDR against its purchase and queues it for
	// settlement. No charge is made.
	Include(ctx context.Context, req IncludeRequest) (*purchasedomain.SDR, error)
}
