package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/autocapture/internal/resilience"
)

func serve(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newLocator(kind Kind, endpoint string) *Locator {
	return New(Options{Enabled: true, Kind: kind, Endpoint: endpoint, Timeout: time.Second})
}

func TestKindFromName(t *testing.T) {
	assert.Equal(t, IPAPI, KindFromName("ipapi"))
	assert.Equal(t, IPAPICo, KindFromName("ipapi_co"))
	assert.Equal(t, Geolocation, KindFromName("geolocation"))
	assert.Equal(t, IPAPI, KindFromName("nominatim"))
	assert.Equal(t, "ipapi_co", IPAPICo.String())
	assert.Contains(t, Geolocation.URL(), "ip-api.com")
	assert.Equal(t, "https://ipapi.co/json/", IPAPICo.URL())
}

func TestLookupIPAPI(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"status":"success","country":"Canada","countryCode":"CA",
		"regionName":"Ontario","city":"Toronto","lat":43.6532,"lon":-79.3832,"isp":"Example ISP","query":"203.0.113.7"}`)

	loc := newLocator(IPAPI, srv.URL).Lookup(context.Background())

	require.True(t, loc.OK(), loc.Status)
	assert.Equal(t, "Toronto", loc.City)
	assert.Equal(t, "Ontario", loc.Region)
	assert.Equal(t, "Canada", loc.Country)
	assert.Equal(t, "CA", loc.CountryCode)
	assert.Equal(t, "203.0.113.7", loc.IP)
	assert.Equal(t, "Example ISP", loc.ISP)
	assert.InDelta(t, 43.6532, loc.Latitude, 1e-9)
	assert.InDelta(t, -79.3832, loc.Longitude, 1e-9)
	assert.Equal(t, "ip-api.com", loc.Service)
}

func TestLookupIPAPICo(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"ip":"198.51.100.4","city":"Lyon","region":"Auvergne-Rhone-Alpes",
		"country_name":"France","country_code":"FR","latitude":45.75,"longitude":4.85,"org":"Example Telecom"}`)

	loc := newLocator(IPAPICo, srv.URL).Lookup(context.Background())

	require.True(t, loc.OK(), loc.Status)
	assert.Equal(t, "France", loc.Country)
	assert.Equal(t, "FR", loc.CountryCode)
	assert.Equal(t, "Example Telecom", loc.ISP)
	assert.Equal(t, "ipapi.co", loc.Service)
}

func TestLookupFailures(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		status int
		body   string
		want   string
	}{
		{"http error", IPAPI, http.StatusServiceUnavailable, `{}`, "HTTP error: 503"},
		{"ip-api refusal", Geolocation, http.StatusOK, `{"status":"fail","message":"private range"}`, "Service error: private range"},
		{"ip-api refusal without message", IPAPI, http.StatusOK, `{"status":"fail"}`, "Service error: Unknown"},
		{"ipapi.co refusal", IPAPICo, http.StatusOK, `{"error":true,"reason":"RateLimited"}`, "Service error: RateLimited"},
		{"malformed body", IPAPI, http.StatusOK, `not json`, "Location error: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, tt.body)
			loc := newLocator(tt.kind, srv.URL).Lookup(context.Background())

			assert.False(t, loc.OK())
			assert.True(t, strings.HasPrefix(loc.Status, tt.want), "status = %q", loc.Status)
		})
	}
}

func TestLookupTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	loc := New(Options{Enabled: true, Endpoint: srv.URL, Timeout: 50 * time.Millisecond}).Lookup(context.Background())

	assert.Equal(t, StatusTimeout, loc.Status)
}

func TestLookupNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	loc := newLocator(IPAPI, endpoint).Lookup(context.Background())

	assert.True(t, strings.HasPrefix(loc.Status, "Network error: "), "status = %q", loc.Status)
}

func TestLookupReportsEveryHTTPError(t *testing.T) {
	srv, hits := serve(t, http.StatusServiceUnavailable, `{}`)
	l := newLocator(IPAPI, srv.URL)

	for i := 1; i <= 5; i++ {
		assert.Equal(t, "HTTP error: 503", l.Lookup(context.Background()).Status, "lookup %d", i)
		assert.Equal(t, int32(i), hits.Load())
	}
}

func TestLookupDisabled(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, `{}`)

	loc := New(Options{Enabled: false, Endpoint: srv.URL}).Lookup(context.Background())

	assert.Equal(t, StatusDisabled, loc.Status)
	assert.Zero(t, hits.Load())
}

func TestLookupRateLimited(t *testing.T) {
	srv, hits := serve(t, http.StatusOK, `{"status":"success","city":"Oslo"}`)
	l := New(Options{Enabled: true, Endpoint: srv.URL, Limit: rate.Every(time.Hour), Burst: 1})

	first := l.Lookup(context.Background())
	second := l.Lookup(context.Background())

	assert.True(t, first.OK())
	assert.Equal(t, StatusRateLimited, second.Status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLookupCircuitOpens(t *testing.T) {
	srv, hits := serve(t, http.StatusBadGateway, `{}`)
	breaker := resilience.New(resilience.Config{Threshold: 2, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	l := New(Options{Enabled: true, Endpoint: srv.URL, Breaker: breaker})

	assert.Equal(t, "HTTP error: 502", l.Lookup(context.Background()).Status)
	assert.Equal(t, "HTTP error: 502", l.Lookup(context.Background()).Status)
	assert.Equal(t, StatusCircuitOpen, l.Lookup(context.Background()).Status)
	assert.Equal(t, int32(2), hits.Load())
}

func TestServiceRefusalKeepsCircuitClosed(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"status":"fail","message":"reserved range"}`)
	breaker := resilience.New(resilience.Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	l := New(Options{Enabled: true, Endpoint: srv.URL, Breaker: breaker})

	for i := 0; i < 3; i++ {
		assert.Equal(t, "Service error: reserved range", l.Lookup(context.Background()).Status)
	}
	assert.Equal(t, resilience.Closed, breaker.State())
}
