package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CardVault returns the card a customer keeps on file with the store's card
// processor. A nil card with a nil error means the customer has none.
type CardVault interface {
	CardOnFile(ctx context.Context, customer string) (*Card, error)
}

// StoredCard is the processor's reference to a customer's card. The number
// and CVV2 stay with the processor; only display data is kept here.
type StoredCard struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Customer    string       `gorm:"not null;uniqueIndex" json:"customer"`
	Token       string       `gorm:"not null" json:"-"`
	Type        string       `gorm:"not null" json:"type"`
	LastFour    string       `gorm:"column:last_four;not null" json:"last_four"`
	ExpireMonth int          `gorm:"not null" json:"expire_month"`
	ExpireYear  int          `gorm:"not null" json:"expire_year"`
	HolderName  string       `json:"holder_name,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (StoredCard) TableName() string { return "stored_cards" }

// Expired reports whether the card's expiry month ended before at.
func (s StoredCard) Expired(at time.Time) bool {
	if s.ExpireYear == 0 || s.ExpireMonth == 0 {
		return false
	}
	firstAfter := time.Date(s.ExpireYear, time.Month(s.ExpireMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return !at.Before(firstAfter)
}

// Card is what a direct payment is charged against.
func (s StoredCard) Card() Card {
	return Card{
		Type:        s.Type,
		Token:       s.Token,
		ExpireMonth: s.ExpireMonth,
		ExpireYear:  s.ExpireYear,
		HolderName:  s.HolderName,
	}
}

// Validate checks a card registration before it reaches the vault.
func (s StoredCard) Validate() error {
	switch {
	case strings.TrimSpace(s.Customer) == "":
		return ErrCustomerRequired
	case strings.TrimSpace(s.Token) == "":
		return ErrCardTokenRequired
	case s.ExpireMonth < 1 || s.ExpireMonth > 12, s.ExpireYear < 1:
		return ErrInvalidCardExpiry
	}
	return nil
}
