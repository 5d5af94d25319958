package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/types"
)

const marketColumns = `id, code, price, timestamp`

// SeedMarkets registers the configured markets; existing codes are kept as they are
func (s *Store) SeedMarkets(ctx context.Context, codes []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, code := range codes {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO markets (code) VALUES (?);`, code); err != nil {
				return errors.Wrapf(err, "failed to seed market %s", code)
			}
		}
		return nil
	})
}

// ListTracked returns every tracked market ordered by id
func (s *Store) ListTracked(ctx context.Context) ([]types.Market, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id;`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query markets")
	}
	defer rows.Close()

	var markets []types.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, errors.Wrap(rows.Err(), "failed to iterate markets")
}

// GetMarket fetches a market by its code
func (s *Store) GetMarket(ctx context.Context, code string) (types.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE code = ?;`, code)
	m, err := scanMarket(row)
	if errors.Is(err, ErrNotFound) {
		return m, errors.Wrapf(err, "market %s", code)
	}
	return m, err
}

func (s *Store) GetMarketByID(ctx context.Context, id int64) (types.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?;`, id)
	m, err := scanMarket(row)
	if errors.Is(err, ErrNotFound) {
		return m, errors.Wrapf(err, "market id %d", id)
	}
	return m, err
}

// UpdateMarket overwrites price and timestamp of one market and returns the
// state it replaced.
func (s *Store) UpdateMarket(ctx context.Context, code string, price decimal.Decimal, ts time.Time) (types.Market, error) {
	var previous types.Market
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE code = ?;`, code)
		m, err := scanMarket(row)
		if err != nil {
			return errors.Wrapf(err, "market %s", code)
		}
		previous = m

		_, err = tx.ExecContext(ctx, `UPDATE markets SET price = ?, timestamp = ? WHERE id = ?;`,
			price.String(), formatTime(ts), m.ID)
		return errors.Wrapf(err, "failed to update market %s", code)
	})
	if err != nil {
		return types.Market{}, err
	}

	log.WithFields(log.Fields{"market": code, "price": price.String()}).Debug("market updated")
	return previous, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMarket(row scanner) (types.Market, error) {
	var (
		m     types.Market
		price string
		ts    sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Code, &price, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, ErrNotFound
		}
		return m, errors.Wrap(err, "failed to scan market")
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return m, errors.Wrapf(err, "invalid stored price %q for market %s", price, m.Code)
	}
	m.Price = p

	if ts.Valid && ts.String != "" {
		t, err := time.Parse(time.RFC3339Nano, ts.String)
		if err != nil {
			return m, errors.Wrapf(err, "invalid stored timestamp %q for market %s", ts.String, m.Code)
		}
		m.Timestamp = t
	}
	return m, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
