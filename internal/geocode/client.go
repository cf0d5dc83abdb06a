// Package geocode resolves postal addresses to coordinates through the
// French national address API (api-adresse.data.gouv.fr).
package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/asd12288/meydacrm/internal/cache"
)

const (
	DefaultURL = "https://api-adresse.data.gouv.fr/search/"
	DefaultTTL = 7 * 24 * time.Hour
	userAgent  = "meydacrm/1.0"
	maxBody    = 1 << 20
)

var (
	// ErrEmptyAddress is returned for blank input.
	ErrEmptyAddress = errors.New("adresse vide")
	// ErrNoResult is returned when the API knows no matching address.
	ErrNoResult = errors.New("adresse introuvable")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("service de géocodage indisponible")
)

// Result is the best match for an address.
type Result struct {
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Score     float64 `json:"score"`
	City      string  `json:"city"`
	Postcode  string  `json:"postcode"`
}

// Client looks addresses up with caching, rate limiting and a circuit breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      cache.Cache
	ttl        time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	outcomes   *prometheus.CounterVec
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// WithTTL sets how long successful lookups stay cached.
func WithTTL(ttl time.Duration) Option { return func(c *Client) { c.ttl = ttl } }

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithOutcomes counts lookups by outcome label.
func WithOutcomes(v *prometheus.CounterVec) Option { return func(c *Client) { c.outcomes = v } }

// NewClient creates a client for baseURL (DefaultURL when empty) caching
// results in store.
func NewClient(baseURL string, store cache.Cache, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		cache:      store,
		ttl:        DefaultTTL,
		limiter:    rate.NewLimiter(10, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "geocode",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoResult)
		},
	})

	return c
}

// Normalize lowercases, trims and collapses whitespace.
func Normalize(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// CacheKey returns the cache key for an address.
func CacheKey(address string) string {
	sum := sha256.Sum256([]byte(Normalize(address)))
	return "geocode:" + hex.EncodeToString(sum[:])
}

// Lookup returns the best match for address.
func (c *Client) Lookup(ctx context.Context, address string) (*Result, error) {
	q := Normalize(address)
	if q == "" {
		return nil, ErrEmptyAddress
	}
	key := CacheKey(q)
	logger := zerolog.Ctx(ctx)

	var cached Result
	ok, err := cache.GetJSON(ctx, c.cache, key, &cached)
	if err != nil {
		logger.Warn().Err(err).Msg("geocode cache read failed")
	}
	if ok {
		c.count("cache_hit")
		return &cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, q)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.count("unavailable")
		return nil, ErrUnavailable
	}
	if errors.Is(err, ErrNoResult) {
		c.count("no_result")
		return nil, err
	}
	if err != nil {
		c.count("error")
		return nil, fmt.Errorf("geocoding %q: %w", q, err)
	}

	res := out.(*Result)
	if err := cache.SetJSON(ctx, c.cache, key, res, c.ttl); err != nil {
		logger.Warn().Err(err).Msg("geocode cache write failed")
	}
	c.count("ok")
	return res, nil
}

func (c *Client) fetch(ctx context.Context, q string) (*Result, error) {
	params := url.Values{
		"q":     {q},
		"limit": {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decoding response: invalid JSON")
	}

	return parseFeature(body)
}

// parseFeature extracts the first GeoJSON feature. Coordinates are [lon, lat].
func parseFeature(body []byte) (*Result, error) {
	feature := gjson.GetBytes(body, "features.0")
	if !feature.Exists() {
		return nil, ErrNoResult
	}

	coords := feature.Get("geometry.coordinates").Array()
	if len(coords) < 2 {
		return nil, fmt.Errorf("feature has no coordinates")
	}

	props := feature.Get("properties")
	return &Result{
		Label:     props.Get("label").String(),
		Longitude: coords[0].Float(),
		Latitude:  coords[1].Float(),
		Score:     props.Get("score").Float(),
		City:      props.Get("city").String(),
		Postcode:  props.Get("postcode").String(),
	}, nil
}

func (c *Client) count(outcome string) {
	if c.outcomes != nil {
		c.outcomes.WithLabelValues(outcome).Inc()
	}
}
