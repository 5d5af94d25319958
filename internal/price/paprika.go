package price

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/types"
)

type tickerLister interface {
	List(options *coinpaprika.TickersOptions) ([]*coinpaprika.Ticker, error)
}

// PaprikaFetcher reads tickers from the CoinPaprika API. Market codes are
// coinpaprika coin ids such as "btc-bitcoin".
type PaprikaFetcher struct {
	tickers tickerLister
	quote   string
}

func NewPaprikaFetcher(httpClient *http.Client, quote, apiProKey string) *PaprikaFetcher {
	if quote == "" {
		quote = "USD"
	}

	var client *coinpaprika.Client
	if apiProKey != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(apiProKey))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}

	return &PaprikaFetcher{tickers: &client.Tickers, quote: strings.ToUpper(quote)}
}

func (f *PaprikaFetcher) Name() string {
	return "coinpaprika"
}

// FetchAll lists all tickers quoted in the configured currency
func (f *PaprikaFetcher) FetchAll(ctx context.Context) ([]types.Quote, error) {
	type result struct {
		tickers []*coinpaprika.Ticker
		err     error
	}

	// the client has no context support, the http client timeout bounds the call
	done := make(chan result, 1)
	go func() {
		tickers, err := f.tickers.List(&coinpaprika.TickersOptions{Quotes: f.quote})
		done <- result{tickers, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, unavailable(ctx.Err(), "coinpaprika tickers")
	case res = <-done:
	}
	if res.err != nil {
		return nil, unavailable(res.err, "coinpaprika tickers")
	}

	quotes := make([]types.Quote, 0, len(res.tickers))
	for _, t := range res.tickers {
		if t == nil || t.ID == nil {
			continue
		}
		q, ok := t.Quotes[f.quote]
		if !ok || q.Price == nil {
			log.Debugf("ticker %s has no %s quote", *t.ID, f.quote)
			continue
		}
		if *q.Price <= 0 {
			skipEntry(f.Name(), *t.ID, "non-positive price")
			continue
		}

		quotes = append(quotes, types.Quote{
			Market:    *t.ID,
			Ask:       decimal.NewFromFloat(*q.Price),
			Timestamp: lastUpdated(t),
		})
	}

	dumpQuotes(f.Name(), quotes)
	return quotes, nil
}

func lastUpdated(t *coinpaprika.Ticker) time.Time {
	if t.LastUpdated != nil {
		if ts, err := ParseTimestamp(*t.LastUpdated); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}
