package vault

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargeflow/internal/clock"
	obslogger "github.com/smallbiznis/chargeflow/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"github.com/smallbiznis/chargeflow/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Store keeps one card-on-file reference per customer. The reconciliation
// daemon charges renewals and usage against it.
type Store struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository[paymentdomain.StoredCard]
}

func NewStore(p Params) *Store {
	return &Store{
		db:    p.DB,
		log:   p.Log.Named("payment.vault"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.ProvideStore[paymentdomain.StoredCard](p.DB),
	}
}

// CardOnFile returns the customer's card, or nil when none is stored or the
// stored one has expired.
func (s *Store) CardOnFile(ctx context.Context, customer string) (*paymentdomain.Card, error) {
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return nil, nil
	}
	stored, err := s.repo.FindOne(ctx, &paymentdomain.StoredCard{Customer: customer})
	if err != nil || stored == nil {
		return nil, err
	}
	if stored.Expired(s.clock.Now()) {
		obslogger.WithContext(ctx, s.log).Info("card on file expired",
			zap.String("customer", customer),
			zap.String("card", "****"+stored.LastFour),
		)
		return nil, nil
	}
	card := stored.Card()
	return &card, nil
}

// Save registers or replaces the customer's card.
func (s *Store) Save(ctx context.Context, card paymentdomain.StoredCard) (*paymentdomain.StoredCard, error) {
	card.Customer = strings.TrimSpace(card.Customer)
	card.Token = strings.TrimSpace(card.Token)
	if err := card.Validate(); err != nil {
		return nil, err
	}
	if card.LastFour == "" {
		card.LastFour = lastFour(card.Token)
	}
	card.ID = s.genID.Generate()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "type", "last_four", "expire_month", "expire_year", "holder_name", "updated_at"}),
	}).Create(&card).Error
	if err != nil {
		return nil, err
	}

	saved, err := s.repo.FindOne(ctx, &paymentdomain.StoredCard{Customer: card.Customer})
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, paymentdomain.ErrCardNotFound
	}
	obslogger.WithContext(ctx, s.log).Info("card on file saved",
		zap.String("customer", saved.Customer),
		zap.String("card", "****"+saved.LastFour),
	)
	return saved, nil
}

// Remove forgets the customer's card. Removing a missing card is an error.
func (s *Store) Remove(ctx context.Context, customer string) error {
	res := s.db.WithContext(ctx).
		Where("customer = ?", strings.TrimSpace(customer)).
		Delete(&paymentdomain.StoredCard{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return paymentdomain.ErrCardNotFound
	}
	return nil
}

func lastFour(token string) string {
	if len(token) <= 4 {
		return token
	}
	return token[len(token)-4:]
}

var _ paymentdomain.CardVault = (*Store)(nil)
