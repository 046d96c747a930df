package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const scanBatchSize = 200

type repo struct{}

func Provide() purchasedomain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, purchase *purchasedomain.Purchase) error {
	if purchase.Bills == nil {
		purchase.Bills = []string{}
	}
	if c := purchase.Contract; c != nil {
		c.PurchaseID = purchase.ID
		normalizeContract(c)
	}
	return db.WithContext(ctx).Create(purchase).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*purchasedomain.Purchase, error) {
	return r.load(ctx, db, id, false)
}

func (r *repo) GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*purchasedomain.Purchase, error) {
	return r.load(ctx, db, id, true)
}

func (r *repo) load(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*purchasedomain.Purchase, error) {
	var purchase purchasedomain.Purchase
	if err := db.WithContext(ctx).Where("id = ?", id).First(&purchase).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, purchasedomain.ErrPurchaseNotFound
		}
		return nil, err
	}

	stmt := db.WithContext(ctx).Where("purchase_id = ?", id)
	if forUpdate && supportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var contract purchasedomain.Contract
	if err := stmt.First(&contract).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, purchasedomain.ErrContractNotFound
		}
		return nil, err
	}
	purchase.Contract = &contract
	return &purchase, nil
}

func (r *repo) SaveContract(ctx context.Context, db *gorm.DB, contract *purchasedomain.Contract) error {
	normalizeContract(contract)
	return db.WithContext(ctx).
		Model(&purchasedomain.Contract{}).
		Where("id = ?", contract.ID).
		Updates(map[string]any{
			"pricing_model":   contract.PricingModel,
			"charges":         contract.Charges,
			"pending_sdrs":    contract.PendingSDRs,
			"applied_sdrs":    contract.AppliedSDRs,
			"pending_payment": contract.PendingPayment,
			"revision":        gorm.Expr("revision + 1"),
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *repo) SavePendingSDRs(ctx context.Context, db *gorm.DB, contract *purchasedomain.Contract) error {
	normalizeContract(contract)
	res := db.WithContext(ctx).
		Model(&purchasedomain.Contract{}).
		Where("id = ? AND revision = ?", contract.ID, contract.Revision).
		Updates(map[string]any{
			"pending_sdrs": contract.PendingSDRs,
			"revision":     gorm.Expr("revision + 1"),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return purchasedomain.ErrContractChanged
	}
	contract.Revision++
	return nil
}

func (r *repo) TryLock(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE contracts SET locked = ?, updated_at = ? WHERE purchase_id = ? AND locked = ?`,
		true, time.Now().UTC(), purchaseID, false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Unlock(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE contracts SET locked = ?, updated_at = ? WHERE purchase_id = ?`,
		false, time.Now().UTC(), purchaseID,
	).Error
}

func (r *repo) MarkPending(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID, payment *purchasedomain.PendingPayment) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contract purchasedomain.Contract
		contract.SetPending(payment)
		res := tx.Model(&purchasedomain.Contract{}).
			Where("purchase_id = ? AND locked = ?", purchaseID, true).
			Updates(map[string]any{
				"pending_payment": contract.PendingPayment,
				"locked":          false,
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return purchasedomain.ErrContractNotLocked
		}
		return tx.Model(&purchasedomain.Purchase{}).
			Where("id = ?", purchaseID).
			Updates(map[string]any{
				"state":      purchasedomain.StatePending,
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

func (r *repo) RollbackIfUnlocked(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) (bool, error) {
	var changed bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`UPDATE purchases SET state = ?, updated_at = ?
			 WHERE id = ? AND state = ?
			   AND NOT EXISTS (SELECT 1 FROM contracts WHERE contracts.purchase_id = purchases.id AND contracts.locked = ?)`,
			purchasedomain.StateRollback,
			time.Now().UTC(),
			purchaseID,
			purchasedomain.StatePending,
			true,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true

		var contract purchasedomain.Contract
		contract.SetPending(nil)
		return tx.Model(&purchasedomain.Contract{}).
			Where("purchase_id = ?", purchaseID).
			Updates(map[string]any{
				"pending_payment": contract.PendingPayment,
				"updated_at":      time.Now().UTC(),
			}).Error
	})
	return changed, err
}

func (r *repo) ApplyCommit(ctx context.Context, db *gorm.DB, commit purchasedomain.Commit) error {
	purchase, err := r.GetForUpdate(ctx, db, commit.PurchaseID)
	if err != nil {
		return err
	}
	contract := purchase.Contract

	contract.Charges = append(contract.Charges, commit.Charges...)

	if len(commit.SettledSDRs) > 0 {
		settled := make(map[int]struct{}, len(commit.SettledSDRs))
		for _, n := range commit.SettledSDRs {
			settled[n] = struct{}{}
		}
		remaining := make([]purchasedomain.SDR, 0, len(contract.PendingSDRs))
		for _, sdr := range contract.PendingSDRs {
			if _, ok := settled[sdr.CorrelationNumber]; ok {
				contract.AppliedSDRs = append(contract.AppliedSDRs, sdr)
				continue
			}
			remaining = append(remaining, sdr)
		}
		contract.PendingSDRs = remaining
	}

	if commit.Subscription != nil {
		model := contract.Model()
		model.Subscription = commit.Subscription
		contract.SetModel(model)
	}
	if commit.ClearPending {
		contract.SetPending(nil)
	}
	normalizeContract(contract)

	now := time.Now().UTC()
	updates := map[string]any{
		"pricing_model":   contract.PricingModel,
		"charges":         contract.Charges,
		"pending_sdrs":    contract.PendingSDRs,
		"applied_sdrs":    contract.AppliedSDRs,
		"pending_payment": contract.PendingPayment,
		"revision":        gorm.Expr("revision + 1"),
		"updated_at":      now,
	}
	if commit.Unlock {
		updates["locked"] = false
	}
	if err := db.WithContext(ctx).Model(&purchasedomain.Contract{}).
		Where("id = ?", contract.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	bills := purchase.Bills
	if commit.Bill != "" {
		bills = append(bills, commit.Bill)
	}
	return db.WithContext(ctx).Model(&purchasedomain.Purchase{}).
		Where("id = ?", purchase.ID).
		Updates(map[string]any{
			"state":      purchasedomain.StatePaid,
			"bills":      bills,
			"updated_at": now,
		}).Error
}

func (r *repo) ListWithPendingSDRs(ctx context.Context, db *gorm.DB, before time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	var batch []purchasedomain.Contract
	err := db.WithContext(ctx).
		Select("id", "purchase_id", "pending_sdrs").
		FindInBatches(&batch, scanBatchSize, func(tx *gorm.DB, _ int) error {
			for _, contract := range batch {
				for _, sdr := range contract.PendingSDRs {
					if sdr.TimeStamp.Before(before) {
						ids = append(ids, contract.PurchaseID)
						break
					}
				}
			}
			return nil
		}).Error
	return ids, err
}

func (r *repo) ListDueRenewals(ctx context.Context, db *gorm.DB, now time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	var batch []purchasedomain.Contract
	err := db.WithContext(ctx).
		Select("id", "purchase_id", "pricing_model").
		FindInBatches(&batch, scanBatchSize, func(tx *gorm.DB, _ int) error {
			for _, contract := range batch {
				for _, component := range contract.Model().Subscription {
					if component.RenovationDate != nil && !component.RenovationDate.After(now) {
						ids = append(ids, contract.PurchaseID)
						break
					}
				}
			}
			return nil
		}).Error
	return ids, err
}

func (r *repo) IsMember(ctx context.Context, db *gorm.DB, organization, username string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&purchasedomain.OrganizationMember{}).
		Where("organization = ? AND username = ?", organization, username).
		Count(&count).Error
	return count > 0, err
}

func supportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}

func normalizeContract(c *purchasedomain.Contract) {
	if c.Charges == nil {
		c.Charges = []purchasedomain.Charge{}
	}
	if c.PendingSDRs == nil {
		c.PendingSDRs = []purchasedomain.SDR{}
	}
	if c.AppliedSDRs == nil {
		c.AppliedSDRs = []purchasedomain.SDR{}
	}
}
