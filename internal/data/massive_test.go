package data

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/contactkeval/iv-surface/internal/metrics"
	"github.com/contactkeval/iv-surface/internal/pricing"
)

var (
	underlying = "SPY"
	fixedNow   = time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	expiryDate = time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
)

// newTestMassive points a provider at srv with no waiting between retries.
func newTestMassive(srv *httptest.Server, secondary Provider) *massiveDataProvider {
	p := NewMassiveDataProvider(MassiveConfig{APIKey: "test", BaseURL: srv.URL, BreakerFailures: 3}, secondary)
	p.Client = srv.Client()
	p.retryAfter = func() time.Duration { return 0 }
	p.now = func() time.Time { return fixedNow }
	return p
}

func TestMassiveProvider_Bars_HTTPError(t *testing.T) {
	// fake server returning 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"internal error"}`))
	}))
	defer srv.Close()

	p := newTestMassive(srv, nil)
	_, err := p.Bars(context.Background(), "AAPL", fixedNow.AddDate(0, 0, -5), fixedNow)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError || se.Message != "internal error" {
		t.Fatalf("expected a 500 StatusError, got %v", err)
	}
}

func TestMassiveProvider_BarsPagination(t *testing.T) {
	callCount := 0

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("missing bearer token, got %q", got)
		}

		if callCount == 1 {
			if !strings.HasPrefix(r.URL.Path, "/v2/aggs/ticker/AAPL/range/1/day/2025-01-01/2025-01-05") {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.Write([]byte(`{
				"results": [
					{"t": 1735689600000, "o":1,"h":2,"l":0.5,"c":1.5,"v":100}
				],
				"next_url": "` + srv.URL + `/page2"
			}`))
			return
		}

		w.Write([]byte(`{
				"results": [
					{"t": 1735776000000, "o":1,"h":1,"l":1,"c":1,"v":100}
				]
			}`))
	}))
	defer srv.Close()

	p := newTestMassive(srv, nil)
	fromDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	toDate := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	bars, err := p.Bars(context.Background(), "aapl", fromDate, toDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if !bars[0].Date.Equal(fromDate) || bars[0].Close != 1.5 {
		t.Fatalf("unexpected first bar %+v", bars[0])
	}
}

func TestMassiveProvider_Spot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/aggs/ticker/SPY/prev" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"ticker":"SPY","results":[{"c":581.39,"o":580,"h":583,"l":579,"t":1735689600000}]}`))
	}))
	defer srv.Close()

	spot, err := newTestMassive(srv, nil).Spot(context.Background(), underlying)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot != 581.39 {
		t.Fatalf("expected 581.39, got %v", spot)
	}
}

func TestMassiveProvider_Expirations(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page2" {
			w.Write([]byte(`{"results":[
				{"expiration_date":"2025-01-10","strike_price":580,"contract_type":"call"},
				{"expiration_date":"not-a-date"}
			]}`))
			return
		}
		q := r.URL.Query()
		if q.Get("underlying_ticker") != "SPY" || q.Get("expiration_date.gte") != "2025-01-02" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`{"results":[
			{"expiration_date":"2025-01-17","strike_price":580,"contract_type":"call"},
			{"expiration_date":"2025-01-10","strike_price":580,"contract_type":"put"}
		],"next_url":"` + srv.URL + `/page2"}`))
	}))
	defer srv.Close()

	got, err := newTestMassive(srv, nil).Expirations(context.Background(), underlying)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Time{time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), expiryDate}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMassiveProvider_Chain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/snapshot/options/SPY" || r.URL.Query().Get("expiration_date") != "2025-01-17" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`{"status":"OK","results":[
			{"details":{"contract_type":"call","expiration_date":"2025-01-17","strike_price":580,"ticker":"O:SPY250117C00580000"},
			 "day":{"close":12.1,"volume":1500},"last_quote":{"bid":12.0,"ask":12.3},"open_interest":8000},
			{"details":{"contract_type":"put","expiration_date":"2025-01-17","strike_price":580,"ticker":"O:SPY250117P00580000"},
			 "last_quote":{"bid":9.5,"ask":9.8}},
			{"details":{"contract_type":"warrant","expiration_date":"2025-01-17","strike_price":580}}
		]}`))
	}))
	defer srv.Close()

	quotes, err := newTestMassive(srv, nil).Chain(context.Background(), underlying, expiryDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	call := quotes[0]
	if call.Side != pricing.Call || call.Strike != 580 || call.Bid != 12.0 || call.Ask != 12.3 ||
		call.Volume != 1500 || call.OpenInterest != 8000 || call.LastPrice != 12.1 || !call.Expiration.Equal(expiryDate) {
		t.Fatalf("unexpected call quote %+v", call)
	}
	if quotes[1].Side != pricing.Put {
		t.Fatalf("expected put, got %v", quotes[1].Side)
	}
}

func TestMassiveProvider_RateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[{"c":100}]}`))
	}))
	defer srv.Close()

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := newTestMassive(srv, nil)
	p.Metrics = m

	spot, err := p.Spot(context.Background(), underlying)
	if err != nil || spot != 100 {
		t.Fatalf("expected spot 100 after retries, got %v err=%v", spot, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if got := promtest.ToFloat64(m.ProviderRequests.WithLabelValues("massive", "429")); got != 2 {
		t.Fatalf("expected 2 rate limited requests recorded, got %v", got)
	}
}

func TestMassiveProvider_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestMassive(srv, nil).Spot(context.Background(), underlying)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 StatusError, got %v", err)
	}
	// first attempt plus the default three retries
	if calls.Load() != 4 {
		t.Fatalf("expected 4 calls, got %d", calls.Load())
	}
}

func TestMassiveProvider_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := newTestMassive(srv, nil)
	for i := 0; i < 3; i++ {
		if _, err := p.Spot(context.Background(), underlying); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := p.Spot(context.Background(), underlying)
	if err == nil || !strings.Contains(err.Error(), "massive unavailable") {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("open breaker should not reach the server, got %d calls", calls.Load())
	}
}

func TestMassiveProvider_ClientErrorsKeepBreakerClosed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestMassive(srv, nil)
	for i := 0; i < 5; i++ {
		p.Spot(context.Background(), "NOPE")
	}
	if calls.Load() != 5 {
		t.Fatalf("404s should not open the breaker, got %d calls", calls.Load())
	}
}

func TestMassiveProvider_SecondaryFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"NOT_AUTHORIZED","message":"plan does not include options"}`))
	}))
	defer srv.Close()

	secondary := NewSyntheticProvider(SyntheticConfig{Seed: 1, Spot: 420, Now: func() time.Time { return fixedNow }})
	p := newTestMassive(srv, secondary)
	if p.Secondary() != secondary {
		t.Fatal("secondary not retained")
	}

	spot, err := p.Spot(context.Background(), underlying)
	if err != nil || spot != 420 {
		t.Fatalf("expected secondary spot 420, got %v err=%v", spot, err)
	}
	quotes, err := p.Chain(context.Background(), underlying, expiryDate)
	if err != nil || len(quotes) == 0 {
		t.Fatalf("expected secondary chain, got %d quotes err=%v", len(quotes), err)
	}
}
