// Package data provides market data provider implementations.
//
// This file contains a Massive-backed Provider implementation that retrieves
// spot prices, option expirations, option chain snapshots and daily bars via
// the Massive (formerly Polygon) REST API.
//
// Design notes:
//   - Uses raw HTTP calls instead of the official Massive SDK
//   - Supports pagination, rate-limit retries, a client-side token bucket,
//     a circuit breaker and fallback providers
//   - Logging is intentionally verbose at Debug/Trace levels for diagnostics
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/contactkeval/iv-surface/internal/chain"
	"github.com/contactkeval/iv-surface/internal/logger"
	"github.com/contactkeval/iv-surface/internal/metrics"
	"github.com/contactkeval/iv-surface/internal/pricing"
)

// DefaultMassiveURL is the production API root.
const DefaultMassiveURL = "https://api.massive.com"

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("massive returned status %d", e.Code)
	}
	return fmt.Sprintf("massive returned status %d: %s", e.Code, e.Message)
}

// MassiveConfig configures the Massive provider.
type MassiveConfig struct {
	APIKey            string        `mapstructure:"api_key" json:"-"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" json:"requests_per_minute"` // 0 disables client-side limiting
	MaxRetries        int           `mapstructure:"max_retries" json:"max_retries"`                 // retries after HTTP 429
	BreakerFailures   uint32        `mapstructure:"breaker_failures" json:"breaker_failures"`       // consecutive failures that open the breaker
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout" json:"breaker_timeout"`         // open state duration
}

// massiveDataProvider implements the Provider interface using Massive APIs.
type massiveDataProvider struct {
	// APIKey used for authenticating requests with Massive.
	APIKey string

	// Client is the HTTP client used to make API requests.
	Client *http.Client

	// BaseURL is the root endpoint for Massive APIs
	// (e.g., https://api.massive.com).
	BaseURL string

	// Metrics is optional.
	Metrics *metrics.Metrics

	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int

	// retryAfter returns how long to wait after an HTTP 429.
	retryAfter func() time.Duration

	// now is the clock used to discard expired contracts.
	now func() time.Time

	// secondary is an optional fallback provider.
	secondary Provider
}

// massiveContract represents a single option contract
// returned by Massive's contracts reference endpoint.
type massiveContract struct {
	ContractType     string  `json:"contract_type"`
	ExpiryDate       string  `json:"expiration_date"`
	StrikePrice      float64 `json:"strike_price"`
	Ticker           string  `json:"ticker"`
	UnderlyingTicker string  `json:"underlying_ticker"`
}

// massiveContractsResp models the paginated response
// returned by Massive's option contracts API.
type massiveContractsResp struct {
	Results   []massiveContract `json:"results"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	NextURL   string            `json:"next_url"`
}

// massiveSnapshot is one contract of the option chain snapshot endpoint.
type massiveSnapshot struct {
	Details massiveContract `json:"details"`
	Day     struct {
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	} `json:"day"`
	LastQuote struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	} `json:"last_quote"`
	OpenInterest float64 `json:"open_interest"`
}

type massiveSnapshotResp struct {
	Results []massiveSnapshot `json:"results"`
	Status  string            `json:"status"`
	NextURL string            `json:"next_url"`
}

// massiveAggsResp is the aggregates (bars) response.
type massiveAggsResp struct {
	Ticker  string `json:"ticker"`
	Results []struct {
		Open      float64 `json:"o"`
		Close     float64 `json:"c"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Volume    float64 `json:"v"`
		Timestamp int64   `json:"t"` // epoch millis
	} `json:"results"`
	Status  string `json:"status"`
	NextURL string `json:"next_url"`
}

// NewMassiveDataProvider constructs a Massive-backed data provider.
//
// It initializes an HTTP client with sensible defaults for:
//   - timeouts
//   - connection pooling
//   - HTTP/2 support
//   - gzip decompression
func NewMassiveDataProvider(cfg MassiveConfig, secondary Provider) *massiveDataProvider {
	logger.Infof("initializing Massive data provider")

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMassiveURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "massive",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// client errors say nothing about upstream health
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Infof("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &massiveDataProvider{
		APIKey: cfg.APIKey,
		Client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    false, // must be false to enable gzip auto-decompression
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		BaseURL:    cfg.BaseURL,
		limiter:    limiter,
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		retryAfter: untilNextMinute,
		now:        time.Now,
		secondary:  secondary,
	}
}

// Name identifies the provider in logs and metrics.
func (massiveDataProv *massiveDataProvider) Name() string {
	return "massive"
}

// Secondary returns the configured secondary Provider, if any.
func (massiveDataProv *massiveDataProvider) Secondary() Provider {
	return massiveDataProv.secondary
}

// Spot returns the previous session's close of symbol.
func (massiveDataProv *massiveDataProvider) Spot(ctx context.Context, symbol string) (float64, error) {
	symbol = normalizeSymbol(symbol)
	logger.Debugf("spot request: %s", symbol)

	var body massiveAggsResp
	reqURL := fmt.Sprintf("%s/v2/aggs/ticker/%s/prev?adjusted=true", massiveDataProv.BaseURL, url.PathEscape(symbol))
	err := massiveDataProv.getJSON(ctx, reqURL, &body)
	if err == nil && len(body.Results) == 0 {
		err = fmt.Errorf("%w: no previous close for %s", ErrNoData, symbol)
	}
	if err != nil {
		if massiveDataProv.secondary != nil {
			logger.Debugf("spot for %s failed (%v), delegating to secondary provider", symbol, err)
			return massiveDataProv.secondary.Spot(ctx, symbol)
		}
		return 0, err
	}

	spot := body.Results[len(body.Results)-1].Close
	logger.Tracef("spot %s=%.4f", symbol, spot)
	return spot, nil
}

// Expirations lists the distinct expiration dates of unexpired contracts on
// symbol, in ascending order.
func (massiveDataProv *massiveDataProvider) Expirations(ctx context.Context, symbol string) ([]time.Time, error) {
	symbol = normalizeSymbol(symbol)
	logger.Debugf("expirations request: %s", symbol)

	u, err := url.Parse(massiveDataProv.BaseURL + "/v3/reference/options/contracts")
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("underlying_ticker", symbol)
	query.Set("expiration_date.gte", massiveDataProv.now().UTC().Format(time.DateOnly))
	query.Set("expired", "false")
	query.Set("limit", "1000")
	u.RawQuery = query.Encode()

	var dates []time.Time
	// Handle pagination
	for reqURL := u.String(); reqURL != ""; {
		var page massiveContractsResp
		if err := massiveDataProv.getJSON(ctx, reqURL, &page); err != nil {
			if massiveDataProv.secondary != nil {
				logger.Debugf("expirations for %s failed (%v), delegating to secondary provider", symbol, err)
				return massiveDataProv.secondary.Expirations(ctx, symbol)
			}
			return nil, err
		}
		logger.Tracef("received %d contracts", len(page.Results))

		for _, c := range page.Results {
			t, err := time.Parse(time.DateOnly, c.ExpiryDate)
			if err != nil {
				continue // skip malformed expiry dates
			}
			dates = append(dates, t)
		}
		reqURL = page.NextURL
	}

	out := uniqueSortedDates(dates)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no listed options for %s", ErrNoData, symbol)
	}
	logger.Debugf("resolved %d unique expirations for %s", len(out), symbol)
	return out, nil
}

// Chain returns the quotes of every contract expiring on expiration.
// Contracts without a quote are returned with zero bid/ask; the normalizer
// drops them.
func (massiveDataProv *massiveDataProvider) Chain(ctx context.Context, symbol string, expiration time.Time) ([]chain.MarketQuote, error) {
	symbol = normalizeSymbol(symbol)
	logger.Debugf("chain request: %s expiry=%s", symbol, expiration.Format(time.DateOnly))

	u, err := url.Parse(massiveDataProv.BaseURL + "/v3/snapshot/options/" + url.PathEscape(symbol))
	if err != nil {
		return nil, err
	}
	query := u.Query()
	query.Set("expiration_date", expiration.Format(time.DateOnly))
	query.Set("limit", "250")
	u.RawQuery = query.Encode()

	var out []chain.MarketQuote
	for reqURL := u.String(); reqURL != ""; {
		var page massiveSnapshotResp
		if err := massiveDataProv.getJSON(ctx, reqURL, &page); err != nil {
			if massiveDataProv.secondary != nil {
				logger.Debugf("chain for %s failed (%v), delegating to secondary provider", symbol, err)
				return massiveDataProv.secondary.Chain(ctx, symbol, expiration)
			}
			return nil, err
		}

		for _, s := range page.Results {
			exp, err := time.Parse(time.DateOnly, s.Details.ExpiryDate)
			if err != nil {
				continue
			}
			side, err := pricing.ParseSide(s.Details.ContractType)
			if err != nil {
				continue
			}
			out = append(out, chain.MarketQuote{
				Strike:       s.Details.StrikePrice,
				Expiration:   exp,
				Bid:          s.LastQuote.Bid,
				Ask:          s.LastQuote.Ask,
				Side:         side,
				Volume:       s.Day.Volume,
				OpenInterest: s.OpenInterest,
				LastPrice:    s.Day.Close,
			})
		}
		reqURL = page.NextURL
	}

	logger.Tracef("chain %s %s: %d contracts", symbol, expiration.Format(time.DateOnly), len(out))
	return out, nil
}

// Bars retrieves daily OHLCV bars for symbol between from and to inclusive.
func (massiveDataProv *massiveDataProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	symbol = normalizeSymbol(symbol)
	maxLimit := 50000

	logger.Debugf(
		"fetching bars: %s from=%s to=%s",
		symbol,
		from.Format(time.DateOnly),
		to.Format(time.DateOnly),
	)

	reqURL := fmt.Sprintf(
		"%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&limit=%d",
		massiveDataProv.BaseURL,
		url.PathEscape(symbol),
		from.Format(time.DateOnly),
		to.Format(time.DateOnly),
		maxLimit,
	)

	var out []Bar
	for reqURL != "" {
		var body massiveAggsResp
		if err := massiveDataProv.getJSON(ctx, reqURL, &body); err != nil {
			if massiveDataProv.secondary != nil {
				logger.Debugf("bars for %s failed (%v), delegating to secondary provider", symbol, err)
				return massiveDataProv.secondary.Bars(ctx, symbol, from, to)
			}
			return nil, fmt.Errorf("massive bars for %s: %w", symbol, err)
		}

		logger.Tracef("bars received: %d records", len(body.Results))
		for _, r := range body.Results {
			out = append(out, Bar{
				Date:   chain.DateOnly(time.UnixMilli(r.Timestamp).UTC()),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
		reqURL = body.NextURL
	}
	return out, nil
}

// getJSON performs an authenticated GET and decodes the body into v.
func (massiveDataProv *massiveDataProvider) getJSON(ctx context.Context, reqURL string, v any) error {
	body, err := massiveDataProv.processGetRequest(ctx, reqURL)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// processGetRequest executes an HTTP GET request with rate-limit handling.
//
// Behavior:
//   - Waits on the client-side limiter before every attempt
//   - Runs each attempt through the circuit breaker
//   - Retries HTTP 429 up to maxRetries times, sleeping until the next
//     minute boundary
//   - Returns a *StatusError for any other status >= 400
func (massiveDataProv *massiveDataProvider) processGetRequest(ctx context.Context, reqURL string) ([]byte, error) {
	logger.Tracef("GET %s", reqURL)

	for attempt := 0; ; attempt++ {
		if err := massiveDataProv.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := massiveDataProv.breaker.Execute(func() (any, error) {
			return massiveDataProv.do(ctx, reqURL)
		})
		if err == nil {
			return res.([]byte), nil
		}

		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusTooManyRequests && attempt < massiveDataProv.maxRetries {
			wait := massiveDataProv.retryAfter()
			logger.Infof("rate limit hit, sleeping for %s", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("massive unavailable: %w", err)
		}
		return nil, err
	}
}

// do performs a single request.
func (massiveDataProv *massiveDataProvider) do(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+massiveDataProv.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "iv-surface/1.0")

	resp, err := massiveDataProv.Client.Do(req)
	if err != nil {
		massiveDataProv.Metrics.RecordProviderRequest("massive", 0)
		return nil, err
	}
	defer resp.Body.Close()
	massiveDataProv.Metrics.RecordProviderRequest("massive", resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var dbg struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(body, &dbg)
		if dbg.Message == "" {
			dbg.Message = dbg.Error
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			logger.Errorf("massive API error status=%d message=%s", resp.StatusCode, dbg.Message)
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: dbg.Message}
	}
	return body, nil
}

// untilNextMinute is the per-minute quota reset used after HTTP 429.
func untilNextMinute() time.Duration {
	now := time.Now()
	return time.Until(now.Truncate(time.Minute).Add(time.Minute))
}
