package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/types"
)

// CreateChat registers a chat on first interaction. created is false when the
// chat already existed.
func (s *Store) CreateChat(ctx context.Context, chatID int64) (created bool, err error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO chats (id) VALUES (?);`, chatID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to create chat %d", chatID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n == 1, nil
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (types.Chat, error) {
	var (
		chat     types.Chat
		marketID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, market_id FROM chats WHERE id = ?;`, chatID).Scan(&chat.ID, &marketID)
	if errors.Is(err, sql.ErrNoRows) {
		return chat, errors.Wrapf(ErrNotFound, "chat %d", chatID)
	}
	if err != nil {
		return chat, errors.Wrapf(err, "failed to get chat %d", chatID)
	}
	if marketID.Valid {
		chat.MarketID = &marketID.Int64
	}
	return chat, nil
}

// SetChatMarket points a chat at marketID and deletes all of the chat's
// alerts when the market actually changed. Both writes share a transaction.
// The chat is created if it does not exist yet.
func (s *Store) SetChatMarket(ctx context.Context, chatID, marketID int64) (changed bool, err error) {
	var removed int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chats (id) VALUES (?);`, chatID); err != nil {
			return errors.Wrapf(err, "failed to create chat %d", chatID)
		}

		var current sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT market_id FROM chats WHERE id = ?;`, chatID).Scan(&current); err != nil {
			return errors.Wrapf(err, "failed to read market of chat %d", chatID)
		}
		if current.Valid && current.Int64 == marketID {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE chats SET market_id = ? WHERE id = ?;`, marketID, chatID); err != nil {
			return errors.Wrapf(err, "failed to set market of chat %d", chatID)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE chat_id = ?;`, chatID)
		if err != nil {
			return errors.Wrapf(err, "failed to delete alerts of chat %d", chatID)
		}
		removed, _ = res.RowsAffected()
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if changed {
		log.WithFields(log.Fields{"chat_id": chatID, "market_id": marketID, "alerts_removed": removed}).Debug("chat market changed")
	}
	return changed, nil
}
