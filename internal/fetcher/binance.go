package fetcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trade-sync/internal/logging"
)

const (
	myTradesPath = "/api/v3/myTrades"

	retryBackoff = 250 * time.Millisecond
)

// BinanceOptions parameterise the Binance REST fetcher.
type BinanceOptions struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int64
	Timeout    time.Duration
	UserAgent  string
}

// Binance fetches account trade history from the Binance REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewBinance constructs a Binance trade fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logging.Component(logger, "binance_fetcher"),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// MyTrades retrieves historical trades for one symbol, resuming from the
// query's fromId or startTime filter.
func (b *Binance) MyTrades(ctx context.Context, query TradeQuery) ([]RawTrade, error) {
	if b.opts.APIKey == "" || b.opts.APISecret == "" {
		return nil, errors.New("binance api credentials not configured")
	}
	if query.Symbol == "" {
		return nil, errors.New("symbol is required")
	}

	attempts := query.Retries
	if attempts < 0 {
		attempts = 0
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		trades, err := b.doRequest(ctx, query)
		if err == nil {
			return trades, nil
		}
		lastErr = err
		b.logger.Warn().Err(err).
			Str("symbol", query.Symbol).
			Int("attempt", attempt+1).
			Msg("trade fetch attempt failed")
	}
	return nil, lastErr
}

func (b *Binance) doRequest(ctx context.Context, query TradeQuery) ([]RawTrade, error) {
	params := url.Values{}
	params.Set("symbol", query.Symbol)
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.FromID > 0 {
		params.Set("fromId", strconv.FormatInt(query.FromID, 10))
	} else {
		params.Set("startTime", strconv.FormatInt(query.StartTime, 10))
	}
	if b.opts.RecvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(b.opts.RecvWindow, 10))
	}
	params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))

	queryString := params.Encode()
	signed := queryString + "&signature=" + b.sign(queryString)

	endpoint := b.baseURL + myTradesPath + "?" + signed
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-MBX-APIKEY", b.opts.APIKey)
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if query.NoCache {
		req.Header.Set("Cache-Control", "no-store")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, payload)
	}

	var trades []RawTrade
	if err := json.Unmarshal(payload, &trades); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	return trades, nil
}

func (b *Binance) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(b.opts.APISecret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance api error (%d): %s (code %d)", status, apiErr.Msg, apiErr.Code)
	}
	if len(payload) > 0 {
		return fmt.Errorf("binance api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("binance api error (%d)", status)
}

var _ TradeFetcher = (*Binance)(nil)
