package availability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonwell/booking-widget/internal/mindbody"
)

func newTestResolver(t *testing.T, demoMode bool, handler http.HandlerFunc) *Resolver {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	gw := mindbody.NewGateway(mindbody.GatewayConfig{BaseURL: ts.URL, APIKey: "k", SiteID: "s"})
	return NewResolver(ResolverConfig{Gateway: gw, DemoMode: demoMode})
}

func TestAvailableTimes_DedupAndSort(t *testing.T) {
	r := newTestResolver(t, false, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/appointment/bookableitems" {
			http.NotFound(w, req)
			return
		}
		if req.URL.Query().Get("SessionTypeIds") != "17" {
			t.Fatalf("SessionTypeIds = %s", req.URL.Query().Get("SessionTypeIds"))
		}
		_, _ = w.Write([]byte(`{"Availabilities":[
			{"SessionType":{"Id":17},"StartDateTime":"2024-06-01T14:30:00Z"},
			{"SessionType":{"Id":17},"StartDateTime":"2024-06-01T09:00:00Z"},
			{"SessionType":{"Id":17},"StartDateTime":"2024-06-01T09:00:00Z"}
		]}`))
	})

	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	times, err := r.AvailableTimes(context.Background(), 17, date, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "14:30"}, times)
}

func TestAvailableTimes_SingleDayWindow(t *testing.T) {
	r := newTestResolver(t, false, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		assert.Equal(t, "2024-06-01T00:00:00Z", q.Get("StartDate"))
		assert.Equal(t, "2024-06-01T23:59:59Z", q.Get("EndDate"))
		assert.Equal(t, "4", q.Get("StaffId"))
		_, _ = w.Write([]byte(`{"Availabilities":[]}`))
	})

	staffID := 4
	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	times, err := r.AvailableTimes(context.Background(), 17, date, Options{StaffID: &staffID})
	require.NoError(t, err)
	assert.Empty(t, times, "no slots is a valid non-error outcome")
}

func TestAvailableDates_PassThrough(t *testing.T) {
	r := newTestResolver(t, false, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/appointment/availabledates", req.URL.Path)
		_, _ = w.Write([]byte(`{"AvailableDates":["2024-06-03T00:00:00Z","2024-06-05T00:00:00Z"]}`))
	})

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	dates, err := r.AvailableDates(context.Background(), 17, start, start.AddDate(0, 0, 7), Options{})
	require.NoError(t, err)
	require.Len(t, dates, 2)
	assert.Equal(t, time.June, dates[0].Month())
	assert.Equal(t, 3, dates[0].Day())
}

func TestAvailableDates_EmptyWithoutDemoMode(t *testing.T) {
	r := newTestResolver(t, false, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"AvailableDates":[]}`))
	})
	start := time.Now().UTC()
	dates, err := r.AvailableDates(context.Background(), 17, start, start.AddDate(0, 0, 7), Options{})
	require.NoError(t, err)
	assert.Empty(t, dates, "production path never synthesizes dates")
}

func TestAvailableDates_DemoModeSynthesizes(t *testing.T) {
	r := newTestResolver(t, true, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"AvailableDates":[]}`))
	})
	start := time.Now().UTC()
	dates, err := r.AvailableDates(context.Background(), 17, start, start.AddDate(0, 0, 14), Options{})
	require.NoError(t, err)
	assert.Len(t, dates, demoFallbackDays)
	assert.True(t, dates[0].After(time.Now().UTC().Add(-24*time.Hour)))
}

func TestVerifyAvailability(t *testing.T) {
	r := newTestResolver(t, false, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"Availabilities":[
			{"SessionType":{"Id":17},"StartDateTime":"2024-06-01T09:00:00Z"},
			{"SessionType":{"Id":17},"StartDateTime":"2024-06-01T14:30:00Z"}
		]}`))
	})

	held := time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)
	ok, err := r.VerifyAvailability(context.Background(), 17, held, Options{})
	require.NoError(t, err)
	assert.True(t, ok)

	gone := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
	ok, err = r.VerifyAvailability(context.Background(), 17, gone, Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAvailableTimes_UpstreamErrorPropagates(t *testing.T) {
	r := newTestResolver(t, false, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	_, err := r.AvailableTimes(context.Background(), 17, time.Now(), Options{})
	require.Error(t, err)
	assert.Equal(t, mindbody.ErrKindUpstream, mindbody.ErrorKindOf(err))
}
