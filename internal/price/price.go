package price

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"price-alert-bot/internal/types"
)

// ErrFeedUnavailable is returned when the upstream feed errors, times out or
// answers with something that cannot be decoded. Nothing is mutated when it
// is returned.
var ErrFeedUnavailable = errors.New("price feed unavailable")

// Fetcher retrieves the current quotes of the feed. The feed may omit
// markets and return them in any order.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]types.Quote, error)
	Name() string
}

// Options selects and configures a feed provider
type Options struct {
	Provider string
	URL      string
	Quote    string
	APIKey   string
	Timeout  time.Duration
}

// NewFetcher builds the configured provider
func NewFetcher(opts Options) (Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: opts.Timeout}

	switch strings.ToLower(opts.Provider) {
	case "", "coinpaprika":
		return NewPaprikaFetcher(client, opts.Quote, opts.APIKey), nil
	case "http":
		if opts.URL == "" {
			return nil, errors.New("feed_url is required for the http provider")
		}
		return NewHTTPFetcher(client, opts.URL), nil
	default:
		return nil, errors.Errorf("unknown feed provider %q", opts.Provider)
	}
}

// Index keys quotes by market code. When the feed repeats a market the
// newest quote wins.
func Index(quotes []types.Quote) map[string]types.Quote {
	byMarket := make(map[string]types.Quote, len(quotes))
	for _, q := range quotes {
		if prev, ok := byMarket[q.Market]; ok && prev.Timestamp.After(q.Timestamp) {
			continue
		}
		byMarket[q.Market] = q
	}
	return byMarket
}

// skipEntry logs a feed entry that is treated as missing from the feed
func skipEntry(source, market, reason string) {
	log.WithFields(log.Fields{"feed": source, "market": market}).Warnf("feed entry skipped: %s", reason)
}

func unavailable(err error, format string, args ...any) error {
	return errors.Wrapf(ErrFeedUnavailable, format+": %v", append(args, err)...)
}

func dumpQuotes(source string, quotes []types.Quote) {
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("%s quotes:\n%s", source, spew.Sdump(quotes))
	}
}
