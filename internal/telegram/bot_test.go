package telegram

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-alert-bot/internal/commands"
	"price-alert-bot/internal/database"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

type countingRecorder map[string]int

func (r countingRecorder) CommandHandled(command string) { r[command]++ }

func newTestBot(t *testing.T) (*Bot, *fakeSender, countingRecorder) {
	t.Helper()
	store, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SeedMarkets(ctx, []string{"BTC", "ETH"}))
	_, err = store.UpdateMarket(ctx, "BTC", decimal.NewFromInt(100), time.Now().Add(-time.Minute))
	require.NoError(t, err)

	sender := &fakeSender{}
	rec := countingRecorder{}
	return &Bot{api: sender, commands: commands.NewService(store), recorder: rec}, sender, rec
}

func message(chatID int64, text string) *tgbotapi.Message {
	m := &tgbotapi.Message{MessageID: 1, Text: text, Chat: &tgbotapi.Chat{ID: chatID}}
	if strings.HasPrefix(text, "/") {
		length := len(strings.Fields(text)[0])
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return m
}

func (b *Bot) reply(chatID int64, text string) string {
	return b.HandleMessage(context.Background(), message(chatID, text))
}

func TestStartAsksForMarketOnce(t *testing.T) {
	b, _, rec := newTestBot(t)

	reply := b.reply(1, "/start")
	assert.Contains(t, reply, "Please select a market")
	assert.Contains(t, reply, "/market BTC")
	assert.Contains(t, reply, "/market ETH")

	assert.Contains(t, b.reply(1, "/start"), "How can I help you?")
	assert.Equal(t, 2, rec["start"])
}

func TestAlertFlow(t *testing.T) {
	b, _, _ := newTestBot(t)

	assert.Contains(t, b.reply(1, "/alert 90"), "Please select a market")
	assert.Equal(t, "Market set to BTC.", b.reply(1, "/market btc"))
	assert.Equal(t, "You are already following BTC.", b.reply(1, "/market BTC"))

	assert.Equal(t, "Perfect, I will send you an alert when the price is lower than $90.", b.reply(1, "/alert 90"))
	assert.Equal(t, "Perfect, I will send you an alert when the price is higher than $150.", b.reply(1, "150"))
	assert.Equal(t, "The price must be a whole number greater than 0.", b.reply(1, "/alert -3"))
	assert.Equal(t, "Enter the price:", b.reply(1, "/alert"))
	assert.Contains(t, b.reply(1, "two words"), "/help")

	list := b.reply(1, "/alerts")
	assert.Contains(t, list, "lower than $90")
	assert.Contains(t, list, "higher than $150")
	assert.Less(t, strings.Index(list, "$90"), strings.Index(list, "$150"))
}

func TestRemoveCommand(t *testing.T) {
	b, _, _ := newTestBot(t)
	b.reply(1, "/market BTC")
	b.reply(1, "/alert 90")

	alerts, err := b.commands.ListAlerts(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	assert.Equal(t, "Alert not found.", b.reply(2, fmt.Sprintf("/remove %d", alerts[0].ID)))
	assert.Equal(t, "Alert removed.", b.reply(1, fmt.Sprintf("/remove #%d", alerts[0].ID)))
	assert.Equal(t, "Alert not found.", b.reply(1, fmt.Sprintf("/remove %d", alerts[0].ID)))
	assert.Equal(t, "Usage: /remove <id>", b.reply(1, "/remove x"))
	assert.Contains(t, b.reply(1, "/alerts"), "You have no alerts set.")
}

func TestChangeMarketDropsAlerts(t *testing.T) {
	b, _, _ := newTestBot(t)
	b.reply(1, "/market BTC")
	b.reply(1, "/alert 90")

	assert.Equal(t, "Market set to ETH.", b.reply(1, "/market ETH"))
	assert.Contains(t, b.reply(1, "/alerts"), "You have no alerts set.")
	assert.Contains(t, b.reply(1, "/market DOGE"), "Unknown market")
}

func TestAlertBeforeFirstPrice(t *testing.T) {
	b, _, _ := newTestBot(t)
	b.reply(1, "/market ETH")

	assert.Equal(t, "The price is not known yet, please try again in a minute.", b.reply(1, "/alert 90"))
	assert.Contains(t, b.reply(1, "/alerts"), "You have no alerts set.")
}

func TestPriceCommand(t *testing.T) {
	b, _, _ := newTestBot(t)
	assert.Contains(t, b.reply(1, "/price"), "Please select a market")

	b.reply(1, "/market BTC")
	reply := b.reply(1, "/price")
	assert.True(t, strings.HasPrefix(reply, "$100.00 (BTC)\n"), reply)
	assert.Contains(t, reply, "ago")
}

func TestSendFormatsNotifications(t *testing.T) {
	b, sender, _ := newTestBot(t)

	require.NoError(t, b.Send(5, "ALERT! price is lower than $90. Current price = $85", true))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, int64(5), msg.ChatID)
	assert.Equal(t, "MarkdownV2", msg.ParseMode)
	assert.Equal(t, `🚨 *ALERT\! price is lower than $90\. Current price \= $85*`, msg.Text)

	require.NoError(t, b.Send(5, "plain", false))
	assert.Empty(t, sender.sent[1].ParseMode)
	assert.Equal(t, "plain", sender.sent[1].Text)
}

func TestSendError(t *testing.T) {
	b, sender, _ := newTestBot(t)
	sender.err = fmt.Errorf("Forbidden: bot was blocked by the user")

	assert.Error(t, b.Send(5, "hello", true))
}
