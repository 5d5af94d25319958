package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"price-alert-bot/internal/types"
)

// BotConfig configuration of the bot
type BotConfig struct {
	Token          string
	Debug          bool
	UpdatesTimeout int
}

// Commands is the core command surface the bot front end calls
type Commands interface {
	StartChat(ctx context.Context, chatID int64) (bool, error)
	ListMarkets(ctx context.Context) ([]types.Market, error)
	GetCurrentPrice(ctx context.Context, chatID int64) (types.Market, error)
	CreateAlert(ctx context.Context, chatID, price int64) (types.Alert, error)
	RemoveChatAlert(ctx context.Context, chatID, alertID int64) (bool, error)
	ChangeMarketByCode(ctx context.Context, chatID int64, code string) (types.Market, bool, error)
	ListAlerts(ctx context.Context, chatID int64) ([]types.Alert, error)
}

// Recorder counts handled commands
type Recorder interface {
	CommandHandled(command string)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot telegram interaction client
type Bot struct {
	Bot      *tgbotapi.BotAPI
	Config   BotConfig
	api      sender
	commands Commands
	recorder Recorder
}

// Message a telegram message struct
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
	Formatted bool
}
