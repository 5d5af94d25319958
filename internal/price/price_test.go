package price

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-alert-bot/internal/types"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcherEnvelope(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"status":"success","data":[
		{"market":"ETHCLP","ask":"250000","timestamp":"2018-01-10T12:30:00.123456"},
		{"market":"BTCCLP","ask":9500000.5,"timestamp":"2018-01-10T12:30:01Z"}
	]}`)

	quotes, err := NewHTTPFetcher(srv.Client(), srv.URL).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	byMarket := Index(quotes)
	assert.True(t, byMarket["ETHCLP"].Ask.Equal(decimal.NewFromInt(250000)))
	assert.Equal(t, time.Date(2018, 1, 10, 12, 30, 0, 123456000, time.UTC), byMarket["ETHCLP"].Timestamp)
	assert.Equal(t, "9500000.5", byMarket["BTCCLP"].Ask.String())
}

func TestHTTPFetcherBareArray(t *testing.T) {
	srv := serve(t, http.StatusOK, `[{"market":"BTC","ask":"100","timestamp":"2024-01-01T00:00:00Z"}]`)

	quotes, err := NewHTTPFetcher(srv.Client(), srv.URL).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "BTC", quotes[0].Market)
}

func TestHTTPFetcherFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `oops`},
		{"garbage body", http.StatusOK, `<html>`},
		{"error status", http.StatusOK, `{"status":"error","data":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			_, err := NewHTTPFetcher(srv.Client(), srv.URL).FetchAll(context.Background())
			assert.ErrorIs(t, err, ErrFeedUnavailable)
		})
	}
}

func TestHTTPFetcherSkipsUnusableEntries(t *testing.T) {
	srv := serve(t, http.StatusOK, `[
		{"market":"BTC","ask":null,"timestamp":"2024-01-01T00:00:00Z"},
		{"market":"ETH","timestamp":"2024-01-01T00:00:00Z"},
		{"market":"LTC","ask":"0","timestamp":"2024-01-01T00:00:00Z"},
		{"market":"XRP","ask":"-1","timestamp":"2024-01-01T00:00:00Z"},
		{"market":"ADA","ask":"1","timestamp":"yesterday"},
		{"market":"DOT","ask":"7.5","timestamp":"2024-01-01T00:00:00Z"}
	]`)

	quotes, err := NewHTTPFetcher(srv.Client(), srv.URL).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "DOT", quotes[0].Market)
	assert.True(t, decimal.RequireFromString("7.5").Equal(quotes[0].Ask))
}

func TestHTTPFetcherTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPFetcher(srv.Client(), srv.URL).FetchAll(ctx)
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestIndexKeepsNewestQuote(t *testing.T) {
	now := time.Now()
	quotes := []types.Quote{
		{Market: "BTC", Ask: decimal.NewFromInt(2), Timestamp: now},
		{Market: "ETH", Ask: decimal.NewFromInt(5), Timestamp: now},
		{Market: "BTC", Ask: decimal.NewFromInt(1), Timestamp: now.Add(-time.Minute)},
	}

	idx := Index(quotes)
	require.Len(t, idx, 2)
	assert.True(t, idx["BTC"].Ask.Equal(decimal.NewFromInt(2)))
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2017-12-27T13:06:56.123")
	require.NoError(t, err)
	assert.Equal(t, 123*time.Millisecond, time.Duration(ts.Nanosecond()))

	ts, err = ParseTimestamp("2017-12-27T13:06:56+03:00")
	require.NoError(t, err)
	assert.Equal(t, 10, ts.Hour())

	_, err = ParseTimestamp("27/12/2017")
	assert.Error(t, err)
}

type fakeLister struct {
	tickers []*coinpaprika.Ticker
	err     error
}

func (f fakeLister) List(*coinpaprika.TickersOptions) ([]*coinpaprika.Ticker, error) {
	return f.tickers, f.err
}

func TestPaprikaFetcherUnavailable(t *testing.T) {
	f := &PaprikaFetcher{tickers: fakeLister{err: fmt.Errorf("connection refused")}, quote: "USD"}

	_, err := f.FetchAll(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestPaprikaFetcherSkipsIncompleteTickers(t *testing.T) {
	f := &PaprikaFetcher{tickers: fakeLister{tickers: []*coinpaprika.Ticker{nil, {}}}, quote: "USD"}

	quotes, err := f.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestNewFetcher(t *testing.T) {
	f, err := NewFetcher(Options{Provider: "coinpaprika"})
	require.NoError(t, err)
	assert.Equal(t, "coinpaprika", f.Name())

	f, err = NewFetcher(Options{Provider: "http", URL: "http://localhost/tickers"})
	require.NoError(t, err)
	assert.Equal(t, "http", f.Name())

	_, err = NewFetcher(Options{Provider: "http"})
	assert.Error(t, err)

	_, err = NewFetcher(Options{Provider: "kraken"})
	assert.Error(t, err)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestPaprikaFetcherThroughClient(t *testing.T) {
	body := `[
		{"id":"btc-bitcoin","last_updated":"2024-03-01T10:00:00Z","quotes":{"USD":{"price":65000.5}}},
		{"id":"eth-ethereum","last_updated":"not a date","quotes":{"USD":{"price":3500}}},
		{"id":"dead-coin","last_updated":"2024-03-01T10:00:00Z","quotes":{"USD":{"price":0}}},
		{"id":"eur-only","quotes":{"EUR":{"price":1}}}
	]`
	var requested string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requested = r.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})}

	before := time.Now().UTC()
	quotes, err := NewPaprikaFetcher(client, "usd", "").FetchAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, requested, "/tickers")
	assert.Contains(t, requested, "quotes=USD")

	byMarket := Index(quotes)
	require.Len(t, byMarket, 2)

	btc := byMarket["btc-bitcoin"]
	assert.True(t, decimal.RequireFromString("65000.5").Equal(btc.Ask))
	assert.True(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Equal(btc.Timestamp))

	eth := byMarket["eth-ethereum"]
	assert.True(t, decimal.NewFromInt(3500).Equal(eth.Ask))
	assert.False(t, eth.Timestamp.Before(before))
}
