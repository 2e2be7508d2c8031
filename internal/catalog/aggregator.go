// Package catalog aggregates upstream session types and bookable items
// into the unified service/staff/availability view the widget renders.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

// defaultPrice applies when no keyword matches a session type name.
const defaultPrice = 65

// defaultDurationMinutes applies when upstream omits the session length.
const defaultDurationMinutes = 60

// defaultWindowDays is the availability window when the caller gives none.
const defaultWindowDays = 7

// priceKeywords is scanned in order; the first case-insensitive substring
// match against the session type name wins.
var priceKeywords = []struct {
	Keyword string
	Price   float64
}{
	{"1on1", 65},
	{"2on1", 40},
	{"Training", 55},
	{"Massage", 80},
	{"Stretch", 50},
}

// descriptionKeywords is scanned the same way for missing descriptions.
var descriptionKeywords = []struct {
	Keyword     string
	Description string
}{
	{"1on1", "A private one-on-one session tailored to your goals."},
	{"2on1", "A semi-private session for two, guided by one provider."},
	{"Massage", "A therapeutic massage session with a licensed provider."},
	{"Stretch", "An assisted stretch session to improve mobility and recovery."},
}

// Staff is a provider surfaced under a service.
type Staff struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Service is the aggregated view of a session type merged with its
// availabilities.
type Service struct {
	ID              int             `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           float64         `json:"price"`
	DurationMinutes int             `json:"durationMinutes"`
	Staff           map[int]*Staff  `json:"staff"`
	AvailableTimes  []time.Time     `json:"availableTimes"`
}

// ListOptions filters the aggregated catalog.
type ListOptions struct {
	// OnlineOnly restricts the catalog to online-bookable session types.
	// Defaults to true.
	OnlineOnly  *bool
	StaffIDs    []int
	LocationIDs []int
	StartDate   time.Time
	EndDate     time.Time
}

// Aggregator builds the unified service map from upstream responses.
type Aggregator struct {
	gateway *mindbody.Gateway
	logger  *logging.Logger
	now     func() time.Time
}

// NewAggregator creates a catalog aggregator.
func NewAggregator(gateway *mindbody.Gateway, logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{gateway: gateway, logger: logger, now: time.Now}
}

// ListServices fetches session types and availabilities and merges them.
// An empty upstream catalog is a valid empty map, not an error. A session
// types failure is fatal; an availabilities failure degrades to the
// session-type-only view.
func (a *Aggregator) ListServices(ctx context.Context, opts ListOptions) (map[int]*Service, error) {
	sessionTypes, err := a.fetchSessionTypes(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch session types: %w", err)
	}
	if len(sessionTypes) == 0 {
		return map[int]*Service{}, nil
	}

	for i := range sessionTypes {
		backfillSessionType(&sessionTypes[i])
	}

	start, end := opts.StartDate, opts.EndDate
	if start.IsZero() {
		start = a.now().UTC().Truncate(24 * time.Hour)
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, defaultWindowDays)
	}

	availabilities, err := a.fetchAvailabilities(ctx, sessionTypes, opts, start, end)
	if err != nil {
		a.logger.Warn("availabilities fetch failed, rendering session types without slots", "error", err)
		availabilities = nil
	}

	services := make(map[int]*Service, len(sessionTypes))
	byID := make(map[int]*mindbody.SessionType, len(sessionTypes))
	for i := range sessionTypes {
		st := &sessionTypes[i]
		byID[st.ID] = st
		services[st.ID] = serviceFromSessionType(st)
	}

	// With no availabilities every service still renders; date selection
	// discovers real times later.
	if len(availabilities) == 0 {
		return services, nil
	}

	for _, av := range availabilities {
		if av.SessionType == nil {
			continue
		}
		svc, ok := services[av.SessionType.ID]
		if !ok {
			// An availability can reference a session type the catalog
			// call never returned; create a best-effort entry.
			svc = serviceFromRef(av.SessionType)
			services[av.SessionType.ID] = svc
		}
		if av.Price > 0 {
			svc.Price = av.Price
		}
		if av.Staff != nil && av.Staff.ID != 0 {
			if _, seen := svc.Staff[av.Staff.ID]; !seen {
				svc.Staff[av.Staff.ID] = &Staff{ID: av.Staff.ID, Name: av.Staff.Name}
			}
		}
		if !av.StartDateTime.IsZero() {
			svc.AvailableTimes = append(svc.AvailableTimes, av.StartDateTime)
		}
	}

	return services, nil
}

func (a *Aggregator) fetchSessionTypes(ctx context.Context, opts ListOptions) ([]mindbody.SessionType, error) {
	q := url.Values{}
	onlineOnly := true
	if opts.OnlineOnly != nil {
		onlineOnly = *opts.OnlineOnly
	}
	q.Set("OnlineOnly", strconv.FormatBool(onlineOnly))

	var wrapped struct {
		SessionTypes []mindbody.SessionType `json:"SessionTypes"`
	}
	if err := a.gateway.Do(ctx, http.MethodGet, "/appointment/sessiontypes", mindbody.RequestOptions{Query: q}, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.SessionTypes, nil
}

func (a *Aggregator) fetchAvailabilities(ctx context.Context, sessionTypes []mindbody.SessionType, opts ListOptions, start, end time.Time) ([]mindbody.Availability, error) {
	q := url.Values{}
	for _, st := range sessionTypes {
		q.Add("SessionTypeIds", strconv.Itoa(st.ID))
	}
	for _, id := range opts.StaffIDs {
		q.Add("StaffIds", strconv.Itoa(id))
	}
	for _, id := range opts.LocationIDs {
		q.Add("LocationIds", strconv.Itoa(id))
	}
	q.Set("StartDate", start.Format(time.RFC3339))
	q.Set("EndDate", end.Format(time.RFC3339))

	var wrapped struct {
		Availabilities []mindbody.Availability `json:"Availabilities"`
	}
	if err := a.gateway.Do(ctx, http.MethodGet, "/appointment/bookableitems", mindbody.RequestOptions{Query: q}, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Availabilities, nil
}

func serviceFromSessionType(st *mindbody.SessionType) *Service {
	return &Service{
		ID:              st.ID,
		Name:            st.Name,
		Description:     st.Description,
		Price:           st.Price,
		DurationMinutes: st.DefaultTimeLength,
		Staff:           make(map[int]*Staff),
	}
}

func serviceFromRef(ref *mindbody.SessionTypeRef) *Service {
	st := mindbody.SessionType{
		ID:                ref.ID,
		Name:              ref.Name,
		DefaultTimeLength: ref.DefaultTimeLength,
	}
	backfillSessionType(&st)
	return serviceFromSessionType(&st)
}

// backfillSessionType fills a missing price or description via ordered
// keyword matching against the name, falling back to global defaults.
func backfillSessionType(st *mindbody.SessionType) {
	if st.DefaultTimeLength <= 0 {
		st.DefaultTimeLength = defaultDurationMinutes
	}
	if st.Price <= 0 {
		st.Price = priceForName(st.Name)
	}
	if strings.TrimSpace(st.Description) == "" {
		st.Description = descriptionForName(st.Name, st.DefaultTimeLength)
	}
}

func priceForName(name string) float64 {
	lower := strings.ToLower(name)
	for _, kw := range priceKeywords {
		if strings.Contains(lower, strings.ToLower(kw.Keyword)) {
			return kw.Price
		}
	}
	return defaultPrice
}

func descriptionForName(name string, durationMinutes int) string {
	lower := strings.ToLower(name)
	for _, kw := range descriptionKeywords {
		if strings.Contains(lower, strings.ToLower(kw.Keyword)) {
			return kw.Description
		}
	}
	return fmt.Sprintf("A %d-minute %s appointment.", durationMinutes, strings.TrimSpace(name))
}
