package commands

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-alert-bot/internal/database"
)

func newTestService(t *testing.T) (*Service, *database.Store) {
	t.Helper()
	s, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.SeedMarkets(ctx, []string{"BTC", "ETH"}))
	_, err = s.UpdateMarket(ctx, "BTC", decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	_, err = s.UpdateMarket(ctx, "ETH", decimal.NewFromInt(10), time.Now())
	require.NoError(t, err)
	return NewService(s), s
}

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice(" 90 ")
	require.NoError(t, err)
	assert.Equal(t, int64(90), p)

	for _, in := range []string{"0", "-5", "12.5", "abc", ""} {
		_, err := ParsePrice(in)
		assert.ErrorIs(t, err, ErrInvalidPrice, in)
	}
}

func TestCreateAlertWithoutMarket(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAlert(ctx, 1, 90)
	assert.ErrorIs(t, err, ErrNoMarketSelected, "unknown chat")

	created, err := svc.StartChat(ctx, 1)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = svc.CreateAlert(ctx, 1, 90)
	assert.ErrorIs(t, err, ErrNoMarketSelected)

	_, err = svc.GetCurrentPrice(ctx, 1)
	assert.ErrorIs(t, err, ErrNoMarketSelected)
}

func TestCreateAlertInvalidPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.ChangeMarketByCode(ctx, 1, "BTC")
	require.NoError(t, err)

	_, err = svc.CreateAlert(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	alerts, err := svc.ListAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestCreateAlertDerivesDirection(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.ChangeMarketByCode(ctx, 1, "btc")
	require.NoError(t, err)

	tests := []struct {
		price int64
		lower bool
	}{
		{90, true},
		{100, true},
		{101, false},
		{150, false},
	}
	for _, tt := range tests {
		alert, err := svc.CreateAlert(ctx, 1, tt.price)
		require.NoError(t, err)
		assert.Equal(t, tt.lower, alert.TriggerOnLower, "price %d", tt.price)
		assert.NotZero(t, alert.ID)
	}

	alerts, err := svc.ListAlerts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, alerts, 4)
	for i := 1; i < len(alerts); i++ {
		assert.LessOrEqual(t, alerts[i-1].Price, alerts[i].Price)
	}
}

func TestCreateAlertBeforeFirstPrice(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.SeedMarkets(ctx, []string{"LTC"}))
	_, _, err := svc.ChangeMarketByCode(ctx, 1, "LTC")
	require.NoError(t, err)

	_, err = svc.CreateAlert(ctx, 1, 50)
	assert.ErrorIs(t, err, ErrPriceUnknown)

	alerts, err := svc.ListAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	_, err = store.UpdateMarket(ctx, "LTC", decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	a, err := svc.CreateAlert(ctx, 1, 50)
	require.NoError(t, err)
	assert.True(t, a.TriggerOnLower)
}

func TestGetCurrentPrice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.ChangeMarketByCode(ctx, 1, "ETH")
	require.NoError(t, err)

	m, err := svc.GetCurrentPrice(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ETH", m.Code)
	assert.True(t, m.Price.Equal(decimal.NewFromInt(10)))
}

func TestChangeMarketCascade(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	btc, changed, err := svc.ChangeMarketByCode(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = svc.CreateAlert(ctx, 1, 90)
	require.NoError(t, err)

	changed, err = svc.ChangeMarket(ctx, 1, btc.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	alerts, err := svc.ListAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "same market keeps alerts")

	_, changed, err = svc.ChangeMarketByCode(ctx, 1, "ETH")
	require.NoError(t, err)
	assert.True(t, changed)
	alerts, err = svc.ListAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestChangeMarketUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ChangeMarket(ctx, 1, 999)
	assert.ErrorIs(t, err, ErrMarketNotFound)

	_, _, err = svc.ChangeMarketByCode(ctx, 1, "DOGE")
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestRemoveAlertIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.ChangeMarketByCode(ctx, 1, "BTC")
	require.NoError(t, err)

	alert, err := svc.CreateAlert(ctx, 1, 90)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveAlert(ctx, alert.ID))
	require.NoError(t, svc.RemoveAlert(ctx, alert.ID))
	require.NoError(t, svc.RemoveAlert(ctx, 12345))

	alerts, err := svc.ListAlerts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestRemoveChatAlert(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.ChangeMarketByCode(ctx, 1, "BTC")
	require.NoError(t, err)

	alert, err := svc.CreateAlert(ctx, 1, 90)
	require.NoError(t, err)

	removed, err := svc.RemoveChatAlert(ctx, 2, alert.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = svc.RemoveChatAlert(ctx, 1, alert.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestListMarkets(t *testing.T) {
	svc, _ := newTestService(t)

	markets, err := svc.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "BTC", markets[0].Code)
}
