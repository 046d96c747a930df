package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Commit is everything a successful settlement writes, applied in one transaction.
type Commit struct {
	PurchaseID   snowflake.ID
	Charges      []Charge
	Bill         string
	SettledSDRs  []int
	Subscription []Component
	ClearPending bool
	Unlock       bool
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, purchase *Purchase) error
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Purchase, error)
	// GetForUpdate loads the purchase and contract with the contract row locked
	// for the rest of the transaction where the dialect supports it.
	GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Purchase, error)
	SaveContract(ctx context.Context, db *gorm.DB, contract *Contract) error
	// SavePendingSDRs writes only the pending usage records, and only while the
	// row still carries the revision the contract was read at. A newer row
	// fails with ErrContractChanged.
	SavePendingSDRs(ctx context.Context, db *gorm.DB, contract *Contract) error

	// TryLock flips the contract lock from false to true in one statement.
	TryLock(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) (bool, error)
	Unlock(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) error

	// MarkPending stores an in-flight payment, moves the purchase to pending and
	// releases the contract lock. It fails with ErrContractNotLocked unless the
	// caller holds the lock.
	MarkPending(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID, payment *PendingPayment) error
	// RollbackIfUnlocked moves a pending purchase with an unlocked contract to
	// rollback and reports whether a row changed.
	RollbackIfUnlocked(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) (bool, error)
	ApplyCommit(ctx context.Context, db *gorm.DB, commit Commit) error

	// ListWithPendingSDRs returns purchases holding at least one pending SDR
	// stamped before the given instant.
	ListWithPendingSDRs(ctx context.Context, db *gorm.DB, before time.Time) ([]snowflake.ID, error)
	// ListDueRenewals returns purchases with a subscription component due at now.
	ListDueRenewals(ctx context.Context, db *gorm.DB, now time.Time) ([]snowflake.ID, error)
	IsMember(ctx context.Context, db *gorm.DB, organization, username string) (bool, error)
}
