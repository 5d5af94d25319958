package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market is a tracked price symbol with its last known ask price
type Market struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Chat is a telegram conversation; MarketID is nil until the user picks one
type Chat struct {
	ID       int64  `json:"id"`
	MarketID *int64 `json:"market_id"`
}

// Alert is a price threshold a chat waits for on its current market
type Alert struct {
	ID             int64 `json:"id"`
	ChatID         int64 `json:"chat_id"`
	Price          int64 `json:"price"`
	TriggerOnLower bool  `json:"trigger_on_lower"`
}

// Direction returns "lower" or "higher"
func (a Alert) Direction() string {
	if a.TriggerOnLower {
		return "lower"
	}
	return "higher"
}

// FiredAlert is an alert removed by evaluation together with the price that fired it
type FiredAlert struct {
	Alert
	MarketCode   string          `json:"market_code"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Message      string          `json:"message"`
	Delivered    bool            `json:"delivered"`
}

// Quote is one entry of the price feed
type Quote struct {
	Market    string          `json:"market"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}
