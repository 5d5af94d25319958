package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"price-alert-bot/internal/price"
	"price-alert-bot/internal/types"
)

// MarketStore is the market storage a cycle reads and writes
type MarketStore interface {
	ListTracked(ctx context.Context) ([]types.Market, error)
	UpdateMarket(ctx context.Context, code string, price decimal.Decimal, ts time.Time) (types.Market, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, market types.Market, oldPrice, newPrice decimal.Decimal) ([]types.FiredAlert, error)
}

// Recorder receives cycle outcomes
type Recorder interface {
	CycleCompleted(markets int)
	CycleFailed()
}

type noopRecorder struct{}

func (noopRecorder) CycleCompleted(int) {}
func (noopRecorder) CycleFailed()       {}

// Config tunes a refresh Service
type Config struct {
	Workers      int
	FetchTimeout time.Duration
}

// Service runs refresh cycles: fetch all quotes, then per market update the
// stored price and evaluate alerts.
type Service struct {
	store     MarketStore
	fetcher   price.Fetcher
	evaluator Evaluator
	recorder  Recorder
	cfg       Config
}

func NewService(store MarketStore, fetcher price.Fetcher, evaluator Evaluator, recorder Recorder, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Service{store: store, fetcher: fetcher, evaluator: evaluator, recorder: recorder, cfg: cfg}
}

// CycleResult summarises one refresh cycle
type CycleResult struct {
	ID      string
	Updated int
	Skipped int
	Failed  int
	Fired   []types.FiredAlert
}

// RunCycle performs one refresh. A feed failure or an unreadable market list
// abandons the cycle before anything is written. Failures of single markets
// are collected and returned after the remaining markets were processed.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{ID: uuid.NewString()}
	logger := log.WithField("cycle_id", res.ID)

	markets, err := s.store.ListTracked(ctx)
	if err != nil {
		s.recorder.CycleFailed()
		return res, errors.Wrap(err, "list tracked markets")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	quotes, err := s.fetcher.FetchAll(fetchCtx)
	cancel()
	if err != nil {
		s.recorder.CycleFailed()
		return res, errors.Wrapf(err, "fetch %s", s.fetcher.Name())
	}
	byMarket := price.Index(quotes)

	var (
		mu   sync.Mutex
		errs error
	)
	pool := newWorkerPool(s.cfg.Workers)
	pool.Run(len(markets), func(i int) {
		market := markets[i]
		defer func() {
			if r := recover(); r != nil {
				mu.Lock()
				res.Failed++
				errs = multierr.Append(errs, errors.Errorf("market %s: panic: %v", market.Code, r))
				mu.Unlock()
			}
		}()

		quote, ok := byMarket[market.Code]
		if !ok {
			logger.WithField("market", market.Code).Debug("market missing from feed, skipped")
			mu.Lock()
			res.Skipped++
			mu.Unlock()
			return
		}

		fired, err := s.refreshMarket(ctx, market, quote)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failed++
			errs = multierr.Append(errs, err)
			logger.WithField("market", market.Code).Errorf("refresh failed: %v", err)
			return
		}
		res.Updated++
		res.Fired = append(res.Fired, fired...)
	})

	if errs != nil {
		s.recorder.CycleFailed()
		return res, errs
	}

	s.recorder.CycleCompleted(len(markets))
	logger.Debugf("refresh done: %d updated, %d skipped, %d alert(s) fired", res.Updated, res.Skipped, len(res.Fired))
	return res, nil
}

// refreshMarket writes the quote and evaluates the market against the price
// it replaced
func (s *Service) refreshMarket(ctx context.Context, market types.Market, quote types.Quote) ([]types.FiredAlert, error) {
	previous, err := s.store.UpdateMarket(ctx, market.Code, quote.Ask, quote.Timestamp)
	if err != nil {
		return nil, errors.Wrapf(err, "update market %s", market.Code)
	}

	current := previous
	current.Price = quote.Ask
	current.Timestamp = quote.Timestamp

	if previous.Timestamp.IsZero() {
		log.WithField("market", market.Code).Debugf("first price %s stored, nothing to compare against", quote.Ask)
		return nil, nil
	}

	fired, err := s.evaluator.Evaluate(ctx, current, previous.Price, quote.Ask)
	if err != nil {
		return nil, err
	}
	return fired, nil
}
