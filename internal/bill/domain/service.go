package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Issuer renders, stores and records bills. The bill row is written through
// tx so it commits with the charge that produced it.
type Issuer interface {
	Issue(ctx context.Context, tx *gorm.DB, req IssueRequest) (*Bill, error)
	ListByPurchase(ctx context.Context, purchaseID snowflake.ID) ([]*Bill, error)
}

// Storage keeps rendered documents and returns where they can be fetched.
type Storage interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}
