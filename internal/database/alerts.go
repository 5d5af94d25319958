package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/types"
)

// InsertAlert saves an alert for a chat that is still subscribed to marketID.
// ErrMarketChanged is returned when the chat moved to another market since
// the alert was derived.
func (s *Store) InsertAlert(ctx context.Context, alert types.Alert, marketID int64) (types.Alert, error) {
	query := `
	INSERT INTO alerts (chat_id, price, trigger_on_lower)
	SELECT id, ?, ? FROM chats WHERE id = ? AND market_id = ?;`

	res, err := s.db.ExecContext(ctx, query, alert.Price, alert.TriggerOnLower, alert.ChatID, marketID)
	if err != nil {
		return alert, errors.Wrap(err, "failed to insert alert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return alert, errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return alert, errors.Wrapf(ErrMarketChanged, "chat %d", alert.ChatID)
	}
	if alert.ID, err = res.LastInsertId(); err != nil {
		return alert, errors.Wrap(err, "failed to read alert id")
	}

	log.WithFields(log.Fields{
		"alert_id":         alert.ID,
		"chat_id":          alert.ChatID,
		"price":            alert.Price,
		"trigger_on_lower": alert.TriggerOnLower,
	}).Debug("alert inserted")
	return alert, nil
}

// DeleteAlert removes an alert by id. Deleting a missing id is not an error;
// deleted reports whether this call removed the row.
func (s *Store) DeleteAlert(ctx context.Context, alertID int64) (deleted bool, err error) {
	return s.deleteAlerts(ctx, `DELETE FROM alerts WHERE id = ?;`, alertID)
}

// DeleteChatAlert removes an alert only if it belongs to chatID
func (s *Store) DeleteChatAlert(ctx context.Context, chatID, alertID int64) (deleted bool, err error) {
	return s.deleteAlerts(ctx, `DELETE FROM alerts WHERE id = ? AND chat_id = ?;`, alertID, chatID)
}

func (s *Store) deleteAlerts(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete alert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n > 0, nil
}

// GetAlertsByChatID fetches the alerts of a chat ordered by price ascending
func (s *Store) GetAlertsByChatID(ctx context.Context, chatID int64) ([]types.Alert, error) {
	query := `SELECT id, chat_id, price, trigger_on_lower FROM alerts WHERE chat_id = ? ORDER BY price, id;`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query alerts for chat ID %d", chatID)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// GetAlertsByMarketID fetches the pending alerts of every chat subscribed to marketID
func (s *Store) GetAlertsByMarketID(ctx context.Context, marketID int64) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, alertsByMarketQuery, marketID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query alerts for market ID %d", marketID)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

const alertsByMarketQuery = `
	SELECT a.id, a.chat_id, a.price, a.trigger_on_lower
	FROM alerts a
	JOIN chats c ON c.id = a.chat_id
	WHERE c.market_id = ?
	ORDER BY a.id;`

// TakeAlerts removes, in one transaction, every alert of marketID's
// subscribers for which qualifies returns true, and returns the removed
// alerts. Rows deleted concurrently by someone else are not returned.
func (s *Store) TakeAlerts(ctx context.Context, marketID int64, qualifies func(types.Alert) bool) ([]types.Alert, error) {
	var taken []types.Alert
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, alertsByMarketQuery, marketID)
		if err != nil {
			return errors.Wrapf(err, "failed to query alerts for market ID %d", marketID)
		}
		pending, err := scanAlerts(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, alert := range pending {
			if !qualifies(alert) {
				continue
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?;`, alert.ID)
			if err != nil {
				return errors.Wrapf(err, "failed to delete alert %d", alert.ID)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				taken = append(taken, alert)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

func scanAlerts(rows *sql.Rows) ([]types.Alert, error) {
	var alerts []types.Alert
	for rows.Next() {
		var alert types.Alert
		if err := rows.Scan(&alert.ID, &alert.ChatID, &alert.Price, &alert.TriggerOnLower); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		alerts = append(alerts, alert)
	}
	return alerts, errors.Wrap(rows.Err(), "failed to iterate alerts")
}
