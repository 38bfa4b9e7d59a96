// Package iqair implements the resilient HTTP client for the IQAir provider.
// Every attempt is gated by the shared circuit breaker; transient failures
// retry with capped exponential backoff and additive jitter.
package iqair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fairyhunter13/air-quality-monitor/internal/adapter/observability"
	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// Location identifies the upstream city endpoint.
type Location struct {
	Name    string
	City    string
	State   string
	Country string
}

// Options tune the retry policy.
type Options struct {
	AttemptTimeout time.Duration // per-attempt hard timeout
	MaxRetries     int           // attempts = 1 + MaxRetries
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// Client fetches readings from the provider.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	opts    Options
	breaker domain.Breaker
	// sleep and jitter are injected by tests to observe delays.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New constructs a Client. The breaker is shared with the scheduler gate.
func New(baseURL, apiKey string, opts Options, br domain.Breaker) *Client {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 30 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Minute
	}
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		opts:    opts,
		breaker: br,
		sleep:   sleepCtx,
		jitter:  rand.Float64,
	}
}

// WithSleep overrides the retry sleep. Test hook.
func (c *Client) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Client {
	c.sleep = fn
	return c
}

// apiEnvelope is the provider response shape this client consumes.
type apiEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Location struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"location"`
		Current struct {
			Pollution struct {
				TS     string `json:"ts"`
				AQIUS  int    `json:"aqius"`
				MainUS string `json:"mainus"`
				AQICN  int    `json:"aqicn"`
				MainCN string `json:"maincn"`
			} `json:"pollution"`
			Weather struct {
				TP float64 `json:"tp"`
				PR float64 `json:"pr"`
				HU int     `json:"hu"`
				WS float64 `json:"ws"`
				WD int     `json:"wd"`
				IC string  `json:"ic"`
			} `json:"weather"`
		} `json:"current"`
	} `json:"data"`
}

// Fetch pulls one reading, retrying transient failures. The returned
// FetchResult is terminal; the breaker has already been informed.
func (c *Client) Fetch(ctx context.Context, loc Location) (domain.FetchResult, error) {
	start := time.Now()
	var lastErr error

	var attempt int
	for ; attempt <= c.opts.MaxRetries; attempt++ {
		if c.breaker != nil && !c.breaker.Allow() {
			// Fast-fail, no retries consumed and not counted as a failure.
			observability.ObserveFetch("circuit_open", time.Since(start))
			return domain.FetchResult{
				OK:             false,
				Err:            domain.ErrCircuitOpen.Error(),
				ResponseTimeMs: time.Since(start).Milliseconds(),
				Retries:        attempt,
			}, fmt.Errorf("op=iqair.fetch: %w", domain.ErrCircuitOpen)
		}

		reading, err := c.attempt(ctx, loc)
		if err == nil {
			reading.Metadata.RetryCount = attempt
			reading.Metadata.APIResponseTimeMs = time.Since(start).Milliseconds()
			if c.breaker != nil {
				c.breaker.OnSuccess()
			}
			observability.ObserveFetch("success", time.Since(start))
			return domain.FetchResult{
				OK:             true,
				Reading:        reading,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				Retries:        attempt,
			}, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) || attempt == c.opts.MaxRetries {
			break
		}
		if serr := c.sleep(ctx, c.retryDelay(attempt)); serr != nil {
			lastErr = fmt.Errorf("op=iqair.fetch: %w", serr)
			break
		}
	}

	if c.breaker != nil {
		c.breaker.OnFailure()
	}
	observability.ObserveFetch("failure", time.Since(start))
	// attempt holds the index the loop broke on, so a permanent failure on
	// the first try reports zero retries.
	return domain.FetchResult{
		OK:             false,
		Err:            lastErr.Error(),
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Retries:        attempt,
	}, lastErr
}

// retryDelay computes base*2^n plus additive jitter in [0, 0.1*base*2^n),
// capped at MaxDelay.
func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.opts.BaseDelay << uint(attempt)
	if d > c.opts.MaxDelay || d <= 0 {
		d = c.opts.MaxDelay
	}
	j := time.Duration(c.jitter() * 0.1 * float64(d))
	d += j
	if d > c.opts.MaxDelay {
		d = c.opts.MaxDelay
	}
	return d
}

func (c *Client) attempt(ctx context.Context, loc Location) (domain.Reading, error) {
	actx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	u, err := url.Parse(c.baseURL + "/city")
	if err != nil {
		return domain.Reading{}, fmt.Errorf("op=iqair.attempt: %w", err)
	}
	q := u.Query()
	q.Set("city", loc.City)
	q.Set("state", loc.State)
	q.Set("country", loc.Country)
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Reading{}, fmt.Errorf("op=iqair.attempt: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Reading{}, classifyNetErr(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Reading{}, fmt.Errorf("op=iqair.attempt: read body: %w", domain.ErrUpstreamTransient)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to body check
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return domain.Reading{}, fmt.Errorf("op=iqair.attempt: status %d: %w", resp.StatusCode, domain.ErrUpstreamTransient)
	default:
		return domain.Reading{}, fmt.Errorf("op=iqair.attempt: status %d: %w", resp.StatusCode, domain.ErrUpstreamPermanent)
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Reading{}, fmt.Errorf("op=iqair.attempt: decode: %w", domain.ErrUpstreamTransient)
	}
	if env.Status != "success" {
		return domain.Reading{}, fmt.Errorf("op=iqair.attempt: body status %q: %w", env.Status, domain.ErrUpstreamTransient)
	}
	return c.toReading(loc, env), nil
}

func (c *Client) toReading(loc Location, env apiEnvelope) domain.Reading {
	aqi := env.Data.Current.Pollution.AQIUS
	var coords domain.Coordinates
	if pts := env.Data.Location.Coordinates; len(pts) == 2 {
		coords = domain.Coordinates{Lon: pts[0], Lat: pts[1]}
	}
	ts := time.Now().UTC().Truncate(time.Minute)
	if t, err := time.Parse(time.RFC3339, env.Data.Current.Pollution.TS); err == nil {
		ts = t.UTC()
	}
	return domain.Reading{
		Location:      loc.Name,
		Timestamp:     ts,
		Coordinates:   coords,
		AQI:           aqi,
		MainPollutant: env.Data.Current.Pollution.MainUS,
		Level:         domain.LevelForAQI(aqi),
		Weather: domain.Weather{
			Temperature:   env.Data.Current.Weather.TP,
			Humidity:      env.Data.Current.Weather.HU,
			Pressure:      env.Data.Current.Weather.PR,
			WindSpeed:     env.Data.Current.Weather.WS,
			WindDirection: env.Data.Current.Weather.WD,
		},
		Tier: domain.TierHot,
	}
}

func classifyNetErr(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("op=iqair.attempt: %v: %w", err, domain.ErrUpstreamTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("op=iqair.attempt: %w", domain.ErrUpstreamTimeout)
	}
	// Connection resets, DNS failures and friends are transient.
	return fmt.Errorf("op=iqair.attempt: %v: %w", err, domain.ErrUpstreamTransient)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
