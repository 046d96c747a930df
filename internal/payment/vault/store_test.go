package vault

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/chargeflow/internal/clock"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&paymentdomain.StoredCard{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewStore(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clock.NewFakeClock(now)})
}

func TestStore_SaveAndCardOnFile(t *testing.T) {
	store := newTestStore(t, time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	saved, err := store.Save(ctx, paymentdomain.StoredCard{
		Customer:    " test_user ",
		Token:       "card_tok_1111",
		Type:        "visa",
		ExpireMonth: 2,
		ExpireYear:  2018,
		HolderName:  "Test User",
	})
	require.NoError(t, err)
	assert.Equal(t, "test_user", saved.Customer)
	assert.Equal(t, "1111", saved.LastFour)

	card, err := store.CardOnFile(ctx, "test_user")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "card_tok_1111", card.Token)
	assert.Empty(t, card.Number)
	assert.Equal(t, 2018, card.ExpireYear)
	assert.Equal(t, paymentdomain.MethodCard, paymentdomain.CardMethod(*card).Kind)
}

func TestStore_SaveReplacesCustomerCard(t *testing.T) {
	store := newTestStore(t, time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := store.Save(ctx, paymentdomain.StoredCard{Customer: "test_user", Token: "tok_old", Type: "visa", ExpireMonth: 1, ExpireYear: 2019})
	require.NoError(t, err)
	second, err := store.Save(ctx, paymentdomain.StoredCard{Customer: "test_user", Token: "tok_new", Type: "mastercard", LastFour: "4444", ExpireMonth: 3, ExpireYear: 2020})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "mastercard", second.Type)
	assert.Equal(t, "4444", second.LastFour)

	card, err := store.CardOnFile(ctx, "test_user")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "tok_new", card.Token)

	var count int64
	require.NoError(t, store.db.Model(&paymentdomain.StoredCard{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStore_CardOnFileMissingOrExpired(t *testing.T) {
	store := newTestStore(t, time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	card, err := store.CardOnFile(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, card)

	card, err = store.CardOnFile(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, card)

	_, err = store.Save(ctx, paymentdomain.StoredCard{Customer: "test_user", Token: "tok", Type: "visa", ExpireMonth: 2, ExpireYear: 2018})
	require.NoError(t, err)
	card, err = store.CardOnFile(ctx, "test_user")
	require.NoError(t, err)
	assert.Nil(t, card, "a card past its expiry month is not charged")
}

func TestStore_SaveValidates(t *testing.T) {
	store := newTestStore(t, time.Now())

	_, err := store.Save(context.Background(), paymentdomain.StoredCard{Customer: "test_user", ExpireMonth: 1, ExpireYear: 2030})
	assert.ErrorIs(t, err, paymentdomain.ErrCardTokenRequired)
}

func TestStore_Remove(t *testing.T) {
	store := newTestStore(t, time.Date(2017, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := store.Save(ctx, paymentdomain.StoredCard{Customer: "test_user", Token: "tok", Type: "visa", ExpireMonth: 2, ExpireYear: 2018})
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "test_user"))
	card, err := store.CardOnFile(ctx, "test_user")
	require.NoError(t, err)
	assert.Nil(t, card)

	assert.ErrorIs(t, store.Remove(ctx, "test_user"), paymentdomain.ErrCardNotFound)
}
