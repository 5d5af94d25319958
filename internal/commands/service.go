package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/database"
	"price-alert-bot/internal/types"
)

var (
	ErrInvalidPrice     = errors.New("price must be a positive integer")
	ErrNoMarketSelected = errors.New("no market selected")
	ErrMarketNotFound   = errors.New("market not found")
	ErrPriceUnknown     = errors.New("market price not fetched yet")
)

// insertRetries bounds how often CreateAlert re-derives an alert when the
// chat switches market underneath it
const insertRetries = 3

// Store is the storage the command surface works on
type Store interface {
	ListTracked(ctx context.Context) ([]types.Market, error)
	GetMarket(ctx context.Context, code string) (types.Market, error)
	GetMarketByID(ctx context.Context, id int64) (types.Market, error)
	CreateChat(ctx context.Context, chatID int64) (bool, error)
	GetChat(ctx context.Context, chatID int64) (types.Chat, error)
	SetChatMarket(ctx context.Context, chatID, marketID int64) (bool, error)
	InsertAlert(ctx context.Context, alert types.Alert, marketID int64) (types.Alert, error)
	DeleteAlert(ctx context.Context, alertID int64) (bool, error)
	DeleteChatAlert(ctx context.Context, chatID, alertID int64) (bool, error)
	GetAlertsByChatID(ctx context.Context, chatID int64) ([]types.Alert, error)
}

// Service implements the operations the chat front end calls
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// ParsePrice validates user input as a positive integer threshold
func ParsePrice(s string) (int64, error) {
	price, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPrice, "%q", s)
	}
	if price <= 0 {
		return 0, errors.Wrapf(ErrInvalidPrice, "%d", price)
	}
	return price, nil
}

// StartChat registers the chat; created reports a first interaction
func (s *Service) StartChat(ctx context.Context, chatID int64) (created bool, err error) {
	created, err = s.store.CreateChat(ctx, chatID)
	return created, errors.Wrap(err, "start chat")
}

func (s *Service) ListMarkets(ctx context.Context) ([]types.Market, error) {
	markets, err := s.store.ListTracked(ctx)
	return markets, errors.Wrap(err, "list markets")
}

// GetCurrentPrice returns the market the chat follows with its last known price
func (s *Service) GetCurrentPrice(ctx context.Context, chatID int64) (types.Market, error) {
	_, market, err := s.chatMarket(ctx, chatID)
	return market, err
}

// CreateAlert stores a threshold for the chat's market. The direction is
// fixed now: a threshold at or below the current price waits for the price
// to fall, anything above waits for it to rise.
func (s *Service) CreateAlert(ctx context.Context, chatID, price int64) (types.Alert, error) {
	if price <= 0 {
		return types.Alert{}, errors.Wrapf(ErrInvalidPrice, "%d", price)
	}

	var lastErr error
	for i := 0; i < insertRetries; i++ {
		_, market, err := s.chatMarket(ctx, chatID)
		if err != nil {
			return types.Alert{}, err
		}
		// the direction needs a fetched price to compare against
		if market.Timestamp.IsZero() {
			return types.Alert{}, errors.Wrapf(ErrPriceUnknown, "market %s", market.Code)
		}

		alert := types.Alert{
			ChatID:         chatID,
			Price:          price,
			TriggerOnLower: decimal.NewFromInt(price).LessThanOrEqual(market.Price),
		}
		alert, err = s.store.InsertAlert(ctx, alert, market.ID)
		if err == nil {
			log.WithFields(log.Fields{"chat_id": chatID, "market": market.Code, "alert_id": alert.ID}).
				Infof("alert set: %s than %d", alert.Direction(), price)
			return alert, nil
		}
		if !errors.Is(err, database.ErrMarketChanged) {
			return types.Alert{}, errors.Wrap(err, "create alert")
		}
		lastErr = err
	}
	return types.Alert{}, errors.Wrap(lastErr, "create alert")
}

// RemoveAlert deletes an alert; unknown ids are ignored
func (s *Service) RemoveAlert(ctx context.Context, alertID int64) error {
	_, err := s.store.DeleteAlert(ctx, alertID)
	return errors.Wrapf(err, "remove alert %d", alertID)
}

// RemoveChatAlert deletes an alert only when chatID owns it
func (s *Service) RemoveChatAlert(ctx context.Context, chatID, alertID int64) (bool, error) {
	removed, err := s.store.DeleteChatAlert(ctx, chatID, alertID)
	return removed, errors.Wrapf(err, "remove alert %d", alertID)
}

// ChangeMarket subscribes the chat to marketID. All alerts of the chat are
// dropped when the market differs from the current one.
func (s *Service) ChangeMarket(ctx context.Context, chatID, marketID int64) (changed bool, err error) {
	if _, err := s.store.GetMarketByID(ctx, marketID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, errors.Wrapf(ErrMarketNotFound, "id %d", marketID)
		}
		return false, errors.Wrap(err, "change market")
	}
	changed, err = s.store.SetChatMarket(ctx, chatID, marketID)
	return changed, errors.Wrap(err, "change market")
}

// ChangeMarketByCode resolves a market code, case-insensitively, and changes to it
func (s *Service) ChangeMarketByCode(ctx context.Context, chatID int64, code string) (types.Market, bool, error) {
	markets, err := s.ListMarkets(ctx)
	if err != nil {
		return types.Market{}, false, err
	}
	for _, m := range markets {
		if strings.EqualFold(m.Code, strings.TrimSpace(code)) {
			changed, err := s.ChangeMarket(ctx, chatID, m.ID)
			return m, changed, err
		}
	}
	return types.Market{}, false, errors.Wrapf(ErrMarketNotFound, "%q", code)
}

// ListAlerts returns the chat's alerts sorted by price ascending
func (s *Service) ListAlerts(ctx context.Context, chatID int64) ([]types.Alert, error) {
	alerts, err := s.store.GetAlertsByChatID(ctx, chatID)
	return alerts, errors.Wrap(err, "list alerts")
}

func (s *Service) chatMarket(ctx context.Context, chatID int64) (types.Chat, types.Market, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		return chat, types.Market{}, ErrNoMarketSelected
	}
	if err != nil {
		return chat, types.Market{}, errors.Wrap(err, "get chat")
	}
	if chat.MarketID == nil {
		return chat, types.Market{}, ErrNoMarketSelected
	}

	market, err := s.store.GetMarketByID(ctx, *chat.MarketID)
	if err != nil {
		return chat, market, errors.Wrap(err, "get chat market")
	}
	return chat, market, nil
}
