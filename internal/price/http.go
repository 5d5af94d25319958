package price

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"price-alert-bot/internal/types"
)

// HTTPFetcher polls a ticker endpoint answering either
// {"data":[{"market":..,"ask":..,"timestamp":..}]} or a bare array of entries.
type HTTPFetcher struct {
	client *http.Client
	url    string
}

func NewHTTPFetcher(client *http.Client, url string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, url: url}
}

func (f *HTTPFetcher) Name() string {
	return "http"
}

type tickerEntry struct {
	Market    string              `json:"market"`
	Ask       decimal.NullDecimal `json:"ask"`
	Timestamp string              `json:"timestamp"`
}

func (f *HTTPFetcher) FetchAll(ctx context.Context) ([]types.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build feed request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, unavailable(err, "GET %s", f.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrFeedUnavailable, "GET %s: unexpected status %d", f.url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(err, "read %s", f.url)
	}

	entries, err := decodeTickers(body)
	if err != nil {
		return nil, unavailable(err, "decode %s", f.url)
	}

	quotes := make([]types.Quote, 0, len(entries))
	for _, e := range entries {
		if e.Market == "" {
			continue
		}
		if !e.Ask.Valid || !e.Ask.Decimal.IsPositive() {
			skipEntry(f.Name(), e.Market, "missing or non-positive ask")
			continue
		}
		ts, err := ParseTimestamp(e.Timestamp)
		if err != nil {
			skipEntry(f.Name(), e.Market, err.Error())
			continue
		}
		quotes = append(quotes, types.Quote{Market: e.Market, Ask: e.Ask.Decimal, Timestamp: ts})
	}

	dumpQuotes(f.Name(), quotes)
	return quotes, nil
}

func decodeTickers(body []byte) ([]tickerEntry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []tickerEntry
		err := json.Unmarshal(trimmed, &entries)
		return entries, err
	}

	var envelope struct {
		Status string        `json:"status"`
		Data   []tickerEntry `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Status != "" && envelope.Status != "success" {
		return nil, errors.Errorf("feed status %q", envelope.Status)
	}
	return envelope.Data, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts RFC3339 and the zone-less ISO layout some feeds
// emit. Zone-less values are taken as UTC; an empty value means now.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Now().UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognised timestamp %q", s)
}
