package telegram

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/alert"
	"price-alert-bot/internal/commands"
	"price-alert-bot/internal/types"
	"price-alert-bot/lib/helpers"
	"price-alert-bot/lib/translation"
)

// NewBot creates new telegram bot
func NewBot(c BotConfig, cmds Commands, recorder Recorder) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:      bot,
		Config:   c,
		api:      bot,
		commands: cmds,
		recorder: recorder,
	}, nil
}

// Send implements alert.Notifier
func (b *Bot) Send(chatID int64, text string, formatted bool) error {
	if formatted {
		text = "🚨 *" + helpers.EscapeMarkdownV2(text) + "*"
	}
	return b.SendMessage(Message{ChatID: chatID, Text: text, Formatted: formatted})
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	if m.Formatted {
		msg.ParseMode = "MarkdownV2"
	}
	_, err := b.api.Send(msg)
	return errors.Wrapf(err, "could not send message to chat %d", m.ChatID)
}

// Serve consumes updates until ctx is cancelled. Every update is handled on
// its own goroutine; Serve waits for them before returning.
func (b *Bot) Serve(ctx context.Context) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	updates := b.Bot.GetUpdatesChan(updatesConfig)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.Bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				log.Debug("Received non-message update")
				continue
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.handleMessage(ctx, u.Message)
			}(update)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("Recovered from panic: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	text := b.HandleMessage(ctx, m)
	if text == "" {
		return
	}

	if err := b.SendMessage(Message{ChatID: m.Chat.ID, Text: text, MessageID: m.MessageID}); err != nil {
		log.Errorf("Failed to send message: %v", err)
	}
}

// HandleMessage runs the command in m and returns the reply text
func (b *Bot) HandleMessage(ctx context.Context, m *tgbotapi.Message) string {
	chatID := m.Chat.ID
	command := m.Command()
	if command == "" {
		command = "text"
	}
	if b.recorder != nil {
		b.recorder.CommandHandled(command)
	}
	log.WithField("chat_id", chatID).Debugf("received command: %s", command)

	args := strings.TrimSpace(m.CommandArguments())

	switch command {
	case "start":
		return b.handleStart(ctx, chatID)
	case "help":
		return helpText()
	case "price":
		return b.handlePrice(ctx, chatID)
	case "alert":
		if args == "" {
			return translation.Translate("Enter the price:")
		}
		return b.handleCreateAlert(ctx, chatID, args)
	case "alerts":
		return b.handleAlertList(ctx, chatID)
	case "market":
		if args == "" {
			return b.marketList(ctx, translation.Translate("Select a market:"))
		}
		return b.handleChangeMarket(ctx, chatID, args)
	case "remove":
		return b.handleRemove(ctx, chatID, args)
	case "text":
		words := strings.Fields(m.Text)
		if len(words) != 1 {
			return translation.Translate("Sorry, I don't understand you. Need /help?")
		}
		return b.handleCreateAlert(ctx, chatID, words[0])
	}
	return helpText()
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString(translation.Translate("How can I help you?") + "\n\n")
	sb.WriteString("/price - " + translation.Translate("Show current price") + "\n")
	sb.WriteString("/alert <price> - " + translation.Translate("Add a price alert") + "\n")
	sb.WriteString("/alerts - " + translation.Translate("Show active alerts") + "\n")
	sb.WriteString("/remove <id> - " + translation.Translate("Remove an alert") + "\n")
	sb.WriteString("/market [code] - " + translation.Translate("Change market") + "\n")
	sb.WriteString("/help - " + translation.Translate("Show this menu"))
	return sb.String()
}

func (b *Bot) handleStart(ctx context.Context, chatID int64) string {
	created, err := b.commands.StartChat(ctx, chatID)
	if err != nil {
		log.Error(err)
		return translation.Translate("Something went wrong, please try again later.")
	}
	if created {
		return b.marketList(ctx, translation.Translate("Hi! Please select a market:"))
	}
	return helpText()
}

func (b *Bot) marketList(ctx context.Context, header string) string {
	markets, err := b.commands.ListMarkets(ctx)
	if err != nil {
		log.Error(err)
		return translation.Translate("Something went wrong, please try again later.")
	}

	var sb strings.Builder
	sb.WriteString(header)
	for _, m := range markets {
		sb.WriteString("\n/market " + m.Code)
	}
	return sb.String()
}

func (b *Bot) handlePrice(ctx context.Context, chatID int64) string {
	market, err := b.commands.GetCurrentPrice(ctx, chatID)
	if err != nil {
		return b.commandError(ctx, err)
	}
	return fmt.Sprintf("$%s (%s)\n%s",
		helpers.FormatPriceUS(market.Price, false),
		market.Code,
		helpers.FormatTimestamp(market.Timestamp, time.Now()))
}

func (b *Bot) handleCreateAlert(ctx context.Context, chatID int64, raw string) string {
	price, err := commands.ParsePrice(raw)
	if err != nil {
		return b.commandError(ctx, err)
	}

	a, err := b.commands.CreateAlert(ctx, chatID, price)
	if err != nil {
		return b.commandError(ctx, err)
	}
	return translation.Translate("Perfect, I will send you an alert when the price is %s than $%d.",
		translation.Translate(a.Direction()), a.Price)
}

func (b *Bot) handleAlertList(ctx context.Context, chatID int64) string {
	alerts, err := b.commands.ListAlerts(ctx, chatID)
	if err != nil {
		return b.commandError(ctx, err)
	}
	if len(alerts) == 0 {
		return translation.Translate("You have no alerts set.\nWant to add an /alert?")
	}
	return renderAlerts(alerts)
}

func renderAlerts(alerts []types.Alert) string {
	var sb strings.Builder
	sb.WriteString(translation.Translate("Active alerts"))
	for _, a := range alerts {
		sb.WriteString("\n" + alert.String(a))
	}
	sb.WriteString("\n\n" + translation.Translate("Use /remove <id> to remove an alert."))
	return sb.String()
}

func (b *Bot) handleChangeMarket(ctx context.Context, chatID int64, code string) string {
	market, changed, err := b.commands.ChangeMarketByCode(ctx, chatID, code)
	if err != nil {
		return b.commandError(ctx, err)
	}
	if !changed {
		return translation.Translate("You are already following %s.", market.Code)
	}
	return translation.Translate("Market set to %s.", market.Code)
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) string {
	alertID, err := strconv.ParseInt(strings.TrimPrefix(args, "#"), 10, 64)
	if err != nil {
		return translation.Translate("Usage: /remove <id>")
	}

	removed, err := b.commands.RemoveChatAlert(ctx, chatID, alertID)
	if err != nil {
		return b.commandError(ctx, err)
	}
	if !removed {
		return translation.Translate("Alert not found.")
	}
	return translation.Translate("Alert removed.")
}

// commandError turns a command surface error into a reply
func (b *Bot) commandError(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, commands.ErrNoMarketSelected):
		return b.marketList(ctx, translation.Translate("Please select a market and try again:"))
	case errors.Is(err, commands.ErrInvalidPrice):
		return translation.Translate("The price must be a whole number greater than 0.")
	case errors.Is(err, commands.ErrPriceUnknown):
		return translation.Translate("The price is not known yet, please try again in a minute.")
	case errors.Is(err, commands.ErrMarketNotFound):
		return b.marketList(ctx, translation.Translate("Unknown market. Select one of:"))
	}
	log.Error(err)
	return translation.Translate("Something went wrong, please try again later.")
}
