// Package availability resolves bookable dates and time slots for a
// selected service, backed by the upstream scheduling API.
package availability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

// demoFallbackDays is the synthetic window generated in demo mode when
// upstream returns no dates.
const demoFallbackDays = 14

// Options narrows a dates or times lookup.
type Options struct {
	StaffID    *int
	LocationID *int
}

// ResolverConfig configures an availability resolver.
type ResolverConfig struct {
	Gateway *mindbody.Gateway
	Logger  *logging.Logger

	// VenueLocation is the timezone slots are presented in. Defaults to
	// UTC.
	VenueLocation *time.Location

	// DemoMode synthesizes dates when upstream returns none. Never enable
	// in production.
	DemoMode bool
}

// Resolver answers "which dates" and "which times" questions for a
// service, deduplicating and sorting what upstream returns.
type Resolver struct {
	gateway  *mindbody.Gateway
	logger   *logging.Logger
	venue    *time.Location
	demoMode bool
	now      func() time.Time
}

// NewResolver creates an availability resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	venue := cfg.VenueLocation
	if venue == nil {
		venue = time.UTC
	}
	return &Resolver{
		gateway:  cfg.Gateway,
		logger:   logger,
		venue:    venue,
		demoMode: cfg.DemoMode,
		now:      time.Now,
	}
}

// AvailableDates returns upstream's bookable dates for a service within
// [startDate, endDate]. Upstream already deduplicates; the list is passed
// through unchanged.
func (r *Resolver) AvailableDates(ctx context.Context, serviceID int, startDate, endDate time.Time, opts Options) ([]time.Time, error) {
	q := url.Values{}
	q.Set("SessionTypeId", strconv.Itoa(serviceID))
	q.Set("StartDate", startDate.Format(time.RFC3339))
	q.Set("EndDate", endDate.Format(time.RFC3339))
	applyOptions(q, opts)

	var wrapped struct {
		AvailableDates []time.Time `json:"AvailableDates"`
	}
	if err := r.gateway.Do(ctx, http.MethodGet, "/appointment/availabledates", mindbody.RequestOptions{Query: q}, &wrapped); err != nil {
		return nil, fmt.Errorf("availability: fetch dates: %w", err)
	}

	if len(wrapped.AvailableDates) == 0 && r.demoMode {
		r.logger.Warn("demo mode: synthesizing available dates", "service_id", serviceID)
		return r.syntheticDates(), nil
	}
	return wrapped.AvailableDates, nil
}

// AvailableTimes returns the distinct venue-local HH:MM slots for a
// service on a single day, sorted ascending. An empty result is a valid
// "no slots this day" outcome.
func (r *Resolver) AvailableTimes(ctx context.Context, serviceID int, date time.Time, opts Options) ([]string, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, time.UTC)

	q := url.Values{}
	q.Set("SessionTypeIds", strconv.Itoa(serviceID))
	q.Set("StartDate", dayStart.Format(time.RFC3339))
	q.Set("EndDate", dayEnd.Format(time.RFC3339))
	applyOptions(q, opts)

	var wrapped struct {
		Availabilities []mindbody.Availability `json:"Availabilities"`
	}
	if err := r.gateway.Do(ctx, http.MethodGet, "/appointment/bookableitems", mindbody.RequestOptions{Query: q}, &wrapped); err != nil {
		return nil, fmt.Errorf("availability: fetch times: %w", err)
	}

	seen := make(map[string]struct{}, len(wrapped.Availabilities))
	times := make([]string, 0, len(wrapped.Availabilities))
	for _, av := range wrapped.Availabilities {
		if av.StartDateTime.IsZero() {
			continue
		}
		slot := av.StartDateTime.In(r.venue).Format("15:04")
		if _, dup := seen[slot]; dup {
			continue
		}
		seen[slot] = struct{}{}
		times = append(times, slot)
	}
	// Lexicographic sort is chronological for zero-padded 24h times.
	sort.Strings(times)
	return times, nil
}

// VerifyAvailability re-fetches the day's slots immediately before booking
// and checks the requested time is still offered. This narrows, but does
// not eliminate, the race against concurrent bookings.
func (r *Resolver) VerifyAvailability(ctx context.Context, serviceID int, dateTime time.Time, opts Options) (bool, error) {
	times, err := r.AvailableTimes(ctx, serviceID, dateTime, opts)
	if err != nil {
		return false, err
	}
	want := dateTime.In(r.venue).Format("15:04")
	for _, slot := range times {
		if slot == want {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) syntheticDates() []time.Time {
	start := r.now().UTC().Truncate(24 * time.Hour)
	dates := make([]time.Time, 0, demoFallbackDays)
	for i := 1; i <= demoFallbackDays; i++ {
		dates = append(dates, start.AddDate(0, 0, i))
	}
	return dates
}

func applyOptions(q url.Values, opts Options) {
	if opts.StaffID != nil {
		q.Set("StaffId", strconv.Itoa(*opts.StaffID))
	}
	if opts.LocationID != nil {
		q.Set("LocationId", strconv.Itoa(*opts.LocationID))
	}
}
