package catalog

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

func newTestAggregator(t *testing.T, handler http.HandlerFunc) *Aggregator {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	gw := mindbody.NewGateway(mindbody.GatewayConfig{BaseURL: ts.URL, APIKey: "k", SiteID: "s"})
	return NewAggregator(gw, nil)
}

func listServices(t *testing.T, a *Aggregator, opts ListOptions) (map[int]*Service, error) {
	t.Helper()
	return a.ListServices(context.Background(), opts)
}

func TestPriceBackfillKeywordPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		want  float64
	}{
		{"60 min 2on1 Training", 40},    // "2on1" matched before "Training"
		{"90 min 1on1 Training", 65},    // "1on1" first in priority order
		{"Deep Tissue Massage", 80},
		{"Yoga Flow", 65},               // no keyword, global default
		{"Group Training", 55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, priceForName(tt.name))
		})
	}
}

func TestDescriptionBackfill(t *testing.T) {
	st := mindbody.SessionType{ID: 1, Name: "Focus Block", DefaultTimeLength: 45}
	backfillSessionType(&st)
	assert.Equal(t, "A 45-minute Focus Block appointment.", st.Description)

	massage := mindbody.SessionType{ID: 2, Name: "Hot Stone Massage"}
	backfillSessionType(&massage)
	assert.Contains(t, massage.Description, "massage")
	assert.Equal(t, defaultDurationMinutes, massage.DefaultTimeLength)
}

func TestListServices_MergesAvailabilities(t *testing.T) {
	a := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/appointment/sessiontypes":
			if r.URL.Query().Get("OnlineOnly") != "true" {
				t.Fatalf("OnlineOnly = %s, want true", r.URL.Query().Get("OnlineOnly"))
			}
			_, _ = w.Write([]byte(`{"SessionTypes":[
				{"Id":17,"Name":"60 min 1on1","DefaultTimeLength":60},
				{"Id":18,"Name":"Sports Massage","DefaultTimeLength":90,"Price":95,"Description":"Deep work."}
			]}`))
		case "/appointment/bookableitems":
			_, _ = w.Write([]byte(`{"Availabilities":[
				{"SessionType":{"Id":17,"Name":"60 min 1on1"},"Staff":{"Id":4,"Name":"Dana"},"StartDateTime":"2024-06-01T09:00:00Z"},
				{"SessionType":{"Id":17,"Name":"60 min 1on1"},"Staff":{"Id":5,"Name":"Riley"},"StartDateTime":"2024-06-01T14:30:00Z","Price":70},
				{"SessionType":{"Id":99,"Name":"Pop-up Stretch","DefaultTimeLength":30},"StartDateTime":"2024-06-02T10:00:00Z"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	})

	services, err := listServices(t, a, ListOptions{})
	require.NoError(t, err)
	require.Len(t, services, 3)

	oneOnOne := services[17]
	require.NotNil(t, oneOnOne)
	assert.Equal(t, 70.0, oneOnOne.Price, "positive availability price overrides the session type price")
	assert.Len(t, oneOnOne.Staff, 2)
	assert.Equal(t, "Dana", oneOnOne.Staff[4].Name)
	assert.Len(t, oneOnOne.AvailableTimes, 2)

	massage := services[18]
	require.NotNil(t, massage)
	assert.Equal(t, 95.0, massage.Price)
	assert.Equal(t, "Deep work.", massage.Description)

	// An availability referencing an unseen session type still creates a
	// best-effort service entry.
	popup := services[99]
	require.NotNil(t, popup)
	assert.Equal(t, "Pop-up Stretch", popup.Name)
	assert.Equal(t, 50.0, popup.Price) // "Stretch" keyword
	assert.Len(t, popup.AvailableTimes, 1)
}

func TestListServices_EmptyCatalogIsNotAnError(t *testing.T) {
	a := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"SessionTypes":[]}`))
	})
	services, err := listServices(t, a, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestListServices_SessionTypesFailureIsFatal(t *testing.T) {
	a := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := listServices(t, a, ListOptions{})
	require.Error(t, err)
	assert.Equal(t, mindbody.ErrKindUpstream, mindbody.ErrorKindOf(err))
}

func TestListServices_AvailabilityFailureDegrades(t *testing.T) {
	a := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/appointment/sessiontypes" {
			_, _ = w.Write([]byte(`{"SessionTypes":[{"Id":17,"Name":"60 min 2on1 Training"}]}`))
			return
		}
		http.Error(w, "down", http.StatusBadGateway)
	})
	services, err := listServices(t, a, ListOptions{})
	require.NoError(t, err, "availability failure degrades gracefully")
	require.Len(t, services, 1)
	svc := services[17]
	assert.Equal(t, 40.0, svc.Price)
	assert.Empty(t, svc.AvailableTimes)
	assert.Empty(t, svc.Staff)
}

func TestListServices_NoAvailabilitiesStillRenders(t *testing.T) {
	a := newTestAggregator(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/appointment/sessiontypes" {
			_, _ = w.Write([]byte(`{"SessionTypes":[{"Id":21,"Name":"Recovery Stretch","DefaultTimeLength":30}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"Availabilities":[]}`))
	})
	services, err := listServices(t, a, ListOptions{
		StartDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Empty(t, services[21].AvailableTimes)
}
