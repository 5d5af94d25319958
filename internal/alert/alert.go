package alert

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/types"
	"price-alert-bot/lib/translation"
)

// Notifier delivers text to a chat. formatted asks the transport to render
// markup; the markup itself is the transport's business.
type Notifier interface {
	Send(chatID int64, text string, formatted bool) error
}

// Store is the part of the alert store the evaluator needs
type Store interface {
	TakeAlerts(ctx context.Context, marketID int64, qualifies func(types.Alert) bool) ([]types.Alert, error)
}

// Recorder receives evaluation outcomes, typically prometheus counters
type Recorder interface {
	AlertFired()
	NotificationFailed()
}

type noopRecorder struct{}

func (noopRecorder) AlertFired()         {}
func (noopRecorder) NotificationFailed() {}

// Evaluator fires the alerts of a market whose threshold the new price crossed
type Evaluator struct {
	store    Store
	notifier Notifier
	recorder Recorder
}

func NewEvaluator(store Store, notifier Notifier, recorder Recorder) *Evaluator {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Evaluator{store: store, notifier: notifier, recorder: recorder}
}

// Qualifies reports whether an alert fires at price
func Qualifies(a types.Alert, price decimal.Decimal) bool {
	threshold := decimal.NewFromInt(a.Price)
	if a.TriggerOnLower {
		return price.LessThanOrEqual(threshold)
	}
	return price.GreaterThanOrEqual(threshold)
}

// Message is the notification text of a fired alert
func Message(a types.Alert, current decimal.Decimal) string {
	return translation.Translate("ALERT! price is %s than $%d. Current price = $%s",
		translation.Translate(a.Direction()), a.Price, current.String())
}

// Evaluate removes and notifies every alert of market that qualifies at
// newPrice. Nothing is read or removed when the price did not move.
// Removal is authoritative: a failed delivery is logged, not retried.
func (e *Evaluator) Evaluate(ctx context.Context, market types.Market, oldPrice, newPrice decimal.Decimal) ([]types.FiredAlert, error) {
	if oldPrice.Equal(newPrice) {
		return nil, nil
	}

	taken, err := e.store.TakeAlerts(ctx, market.ID, func(a types.Alert) bool {
		return Qualifies(a, newPrice)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate market %s", market.Code)
	}

	fired := make([]types.FiredAlert, 0, len(taken))
	for _, a := range taken {
		f := types.FiredAlert{
			Alert:        a,
			MarketCode:   market.Code,
			CurrentPrice: newPrice,
			Message:      Message(a, newPrice),
		}
		e.recorder.AlertFired()

		logger := log.WithFields(log.Fields{"alert_id": a.ID, "chat_id": a.ChatID, "market": market.Code})
		if err := e.notifier.Send(a.ChatID, f.Message, true); err != nil {
			e.recorder.NotificationFailed()
			logger.Errorf("failed to send alert notification: %v", err)
		} else {
			f.Delivered = true
			logger.Debug("alert notification sent")
		}
		fired = append(fired, f)
	}

	if len(fired) > 0 {
		log.Infof("%s moved %s -> %s, %d alert(s) fired", market.Code, oldPrice, newPrice, len(fired))
	}
	return fired, nil
}

// String renders an alert for listings, e.g. "#3 lower than $90"
func String(a types.Alert) string {
	return fmt.Sprintf("#%d %s", a.ID, translation.Translate("%s than $%d", translation.Translate(a.Direction()), a.Price))
}
