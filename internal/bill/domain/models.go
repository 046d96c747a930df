package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
)

type Bill struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	Reference  string          `gorm:"type:text;not null;uniqueIndex" json:"reference"`
	PurchaseID snowflake.ID    `gorm:"not null;index" json:"purchase_id"`
	Concept    string          `gorm:"type:text;not null" json:"concept"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"amount"`
	Currency   string          `gorm:"type:text;not null" json:"currency"`
	Location   string          `gorm:"type:text;not null" json:"location"`
	IssuedAt   time.Time       `gorm:"not null" json:"issued_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (Bill) TableName() string { return "bills" }

// IssueRequest describes one settled operation to bill.
type IssueRequest struct {
	Purchase *purchasedomain.Purchase
	Concept  string
	Lines    []purchasedomain.ChargeLine
	Total    decimal.Decimal
	Currency string
	IssuedAt time.Time
}
