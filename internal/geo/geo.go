// Package geo resolves the approximate location of the host from its public
// address. Lookups never fail: every problem becomes a Location whose Status
// carries a readable reason.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/autocapture/internal/resilience"
)

// StatusSuccess marks a usable Location.
const StatusSuccess = "success"

// Lookup defaults.
const (
	DefaultTimeout = 5 * time.Second
	// ip-api.com allows 45 requests per minute from one address.
	DefaultRatePerMinute = 45
	DefaultBurst         = 5
	maxBodyBytes         = 64 << 10
)

// DefaultLimit is the provider's published request rate.
var DefaultLimit = rate.Every(time.Minute / DefaultRatePerMinute)

// Fixed failure reasons.
const (
	StatusDisabled    = "Location capture disabled"
	StatusTimeout     = "Location service timeout"
	StatusCircuitOpen = "Location service unavailable: circuit open"
	StatusRateLimited = "Location rate limited"
)

// Location is the provider-independent lookup result.
type Location struct {
	Status      string  `json:"status"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	ISP         string  `json:"isp,omitempty"`
	IP          string  `json:"ip,omitempty"`
	Service     string  `json:"service,omitempty"`
}

// OK reports whether the lookup succeeded.
func (l Location) OK() bool { return l.Status == StatusSuccess }

func failed(format string, args ...any) Location {
	return Location{Status: fmt.Sprintf(format, args...)}
}

// Options configures a Locator. Limit and Breaker are opt-in; without them
// every Lookup sends a request.
type Options struct {
	Enabled  bool
	Kind     Kind
	Timeout  time.Duration
	Endpoint string // overrides Kind.URL(), used by tests
	Limit    rate.Limit
	Burst    int
	Breaker  *resilience.Breaker
	Client   *http.Client
}

// Locator performs one timed lookup per call, optionally throttled and
// guarded by a circuit breaker.
type Locator struct {
	enabled  bool
	kind     Kind
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
}

// New creates a Locator, filling unset options with defaults.
func New(opts Options) *Locator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Endpoint == "" {
		opts.Endpoint = opts.Kind.URL()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	client := *opts.Client
	client.Timeout = opts.Timeout

	l := &Locator{
		enabled:  opts.Enabled,
		kind:     opts.Kind,
		endpoint: opts.Endpoint,
		client:   &client,
		breaker:  opts.Breaker,
	}
	if opts.Limit > 0 {
		if opts.Burst <= 0 {
			opts.Burst = DefaultBurst
		}
		l.limiter = rate.NewLimiter(opts.Limit, opts.Burst)
	}
	return l
}

// Kind returns the configured provider.
func (l *Locator) Kind() Kind { return l.kind }

// Lookup queries the provider once.
func (l *Locator) Lookup(ctx context.Context) Location {
	if !l.enabled {
		return Location{Status: StatusDisabled}
	}
	if l.limiter != nil && !l.limiter.Allow() {
		slog.Debug("location lookup throttled", "provider", l.kind)
		return Location{Status: StatusRateLimited}
	}

	var (
		loc Location
		err error
	)
	if l.breaker != nil {
		loc, err = resilience.ExecuteWithResult(l.breaker, func() (Location, error) {
			return l.fetch(ctx)
		}, tripsBreaker)
	} else {
		loc, err = l.fetch(ctx)
	}
	if err != nil {
		return describe(err)
	}
	return loc
}

func (l *Locator) fetch(ctx context.Context) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, http.NoBody)
	if err != nil {
		return Location{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Location{}, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Location{}, err
	}
	return l.kind.decode(body)
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// tripsBreaker counts transport failures and HTTP errors. A provider that
// answers with a well-formed refusal is reachable and stays closed.
func tripsBreaker(err error) bool {
	var svc *serviceError
	return !errors.As(err, &svc)
}

func describe(err error) Location {
	var (
		status *statusError
		svc    *serviceError
		netErr net.Error
		synErr *json.SyntaxError
	)
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return Location{Status: StatusCircuitOpen}
	case errors.As(err, &status):
		return failed("HTTP error: %d", status.code)
	case errors.As(err, &svc):
		return failed("Service error: %s", svc.message)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return Location{Status: StatusTimeout}
	case errors.As(err, &synErr):
		return failed("Location error: %v", err)
	case errors.As(err, &netErr):
		return failed("Network error: %v", err)
	default:
		return failed("Location error: %v", err)
	}
}
