package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/halcyonwell/booking-widget/internal/availability"
	"github.com/halcyonwell/booking-widget/internal/booking"
	"github.com/halcyonwell/booking-widget/internal/catalog"
	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

var wizardTracer = otel.Tracer("bookwidget.internal.wizard")

var (
	// ErrInvalidPromo rejects promo codes that fail server-side checks.
	ErrInvalidPromo = errors.New("wizard: invalid promo code")
	// ErrStaleFetch marks a times response that arrived after the visitor
	// navigated away from the date it was fetched for.
	ErrStaleFetch = errors.New("wizard: stale availability response discarded")
	// ErrSlotUnavailable means a cart slot disappeared before checkout.
	ErrSlotUnavailable = errors.New("wizard: selected slot is no longer available")
	// ErrNotAuthenticated blocks checkout for anonymous sessions.
	ErrNotAuthenticated = errors.New("wizard: authentication required before checkout")
	// ErrEmptyCart blocks checkout with nothing selected.
	ErrEmptyCart = errors.New("wizard: cart is empty")
)

// WizardConfig wires the flow's collaborators.
type WizardConfig struct {
	Store        *Store
	Catalog      *catalog.Aggregator
	Availability *availability.Resolver
	Booking      *booking.Orchestrator
	Logger       *logging.Logger

	// PromoCode and PromoDiscountPct define the only promotion the
	// server accepts. Discounts are validated here, never client-side.
	PromoCode        string
	PromoDiscountPct float64

	// VenueLocation is the timezone cart slots are interpreted in.
	VenueLocation *time.Location
}

// Wizard runs the booking flow on top of the persisted per-session state.
type Wizard struct {
	store        *Store
	catalog      *catalog.Aggregator
	availability *availability.Resolver
	booking      *booking.Orchestrator
	logger       *logging.Logger

	promoCode        string
	promoDiscountPct float64
	venue            *time.Location
}

// New creates a wizard service.
func New(cfg WizardConfig) *Wizard {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	venue := cfg.VenueLocation
	if venue == nil {
		venue = time.UTC
	}
	pct := cfg.PromoDiscountPct
	if pct <= 0 {
		pct = 0.10
	}
	return &Wizard{
		store:            cfg.Store,
		catalog:          cfg.Catalog,
		availability:     cfg.Availability,
		booking:          cfg.Booking,
		logger:           logger,
		promoCode:        cfg.PromoCode,
		promoDiscountPct: pct,
		venue:            venue,
	}
}

// State returns the session's current state.
func (w *Wizard) State(ctx context.Context, sessionID string) (*State, error) {
	return w.store.Load(ctx, sessionID)
}

// Dispatch applies a command to the session's state and persists the
// result. A rejected command leaves the stored state unchanged.
func (w *Wizard) Dispatch(ctx context.Context, sessionID string, cmd Command) (*State, error) {
	st, err := w.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := Apply(st, cmd); err != nil {
		return nil, err
	}
	if err := w.store.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// Services lists the bookable catalog for the service selection step.
func (w *Wizard) Services(ctx context.Context, opts catalog.ListOptions) (map[int]*catalog.Service, error) {
	return w.catalog.ListServices(ctx, opts)
}

// Dates returns the bookable dates for the session's selected service.
func (w *Wizard) Dates(ctx context.Context, sessionID string, start, end time.Time) ([]time.Time, error) {
	st, err := w.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.SelectedService == nil {
		return nil, mindbody.NewValidationError("no service selected")
	}
	return w.availability.AvailableDates(ctx, st.SelectedService.ID, start, end, w.slotOptions(st))
}

// Times picks the date on the session and returns its open slots. The
// fetch carries the state's sequence number; if another date is picked
// while the upstream call is in flight, the late response is discarded
// with ErrStaleFetch instead of being applied.
func (w *Wizard) Times(ctx context.Context, sessionID, date string) ([]string, error) {
	st, err := w.Dispatch(ctx, sessionID, SelectDate{Date: date})
	if err != nil {
		return nil, err
	}
	st.FetchSeq++
	seq := st.FetchSeq
	if err := w.store.Save(ctx, st); err != nil {
		return nil, err
	}

	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("wizard: bad date %q: %w", date, err)
	}
	times, err := w.availability.AvailableTimes(ctx, st.SelectedService.ID, day, w.slotOptions(st))
	if err != nil {
		return nil, err
	}

	cur, err := w.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cur.FetchSeq != seq || cur.SelectedDate != date {
		w.logger.Debug("discarding stale times response", "session_id", sessionID, "date", date)
		return nil, ErrStaleFetch
	}
	return times, nil
}

// ApplyPromo validates a promo code server-side and applies the flat
// discount on success.
func (w *Wizard) ApplyPromo(ctx context.Context, sessionID, code string) (*State, error) {
	code = strings.TrimSpace(code)
	if w.promoCode == "" || !strings.EqualFold(code, w.promoCode) {
		return nil, ErrInvalidPromo
	}
	return w.Dispatch(ctx, sessionID, SetPromo{Code: w.promoCode, DiscountPct: w.promoDiscountPct})
}

// Checkout verifies every cart slot is still open, books the whole cart,
// and moves the session to confirmation when anything succeeded. Cart
// and selections survive a failed checkout so the visitor can retry.
func (w *Wizard) Checkout(ctx context.Context, sessionID string, payment *mindbody.PaymentInfo) (*booking.Result, *State, error) {
	ctx, span := wizardTracer.Start(ctx, "wizard.Checkout")
	defer span.End()

	st, err := w.store.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !st.Authenticated || st.User == nil {
		return nil, st, ErrNotAuthenticated
	}
	if len(st.Cart.Items) == 0 {
		return nil, st, ErrEmptyCart
	}

	appts := make([]booking.Appointment, 0, len(st.Cart.Items))
	for _, item := range st.Cart.Items {
		startAt, err := w.slotTime(item)
		if err != nil {
			return nil, st, err
		}
		open, err := w.availability.VerifyAvailability(ctx, item.ServiceID, startAt, availability.Options{StaffID: item.StaffID})
		if err != nil {
			return nil, st, fmt.Errorf("wizard: verify %s %s %s: %w", item.ServiceName, item.Date, item.Time, err)
		}
		if !open {
			return nil, st, fmt.Errorf("%w: %s on %s at %s", ErrSlotUnavailable, item.ServiceName, item.Date, item.Time)
		}
		appts = append(appts, booking.Appointment{
			SessionTypeID: item.ServiceID,
			ServiceName:   item.ServiceName,
			StaffID:       item.StaffID,
			StartDateTime: startAt,
		})
	}

	result, err := w.booking.BookMany(ctx, appts, mindbody.ClientRecord{
		ID:        st.User.UpstreamClientID,
		FirstName: st.User.FirstName,
		LastName:  st.User.LastName,
		Email:     st.User.Email,
		Phone:     st.User.Phone,
	}, payment)
	if err != nil {
		return nil, st, err
	}
	if !result.Success() {
		// Everything failed. Keep the cart intact for a retry.
		return result, st, nil
	}

	st, err = w.Dispatch(ctx, sessionID, CompleteBooking{})
	if err != nil {
		return result, st, err
	}
	return result, st, nil
}

func (w *Wizard) slotOptions(st *State) availability.Options {
	opts := availability.Options{}
	if st.SelectedStaff != nil {
		opts.StaffID = st.SelectedStaff.ID
	}
	return opts
}

func (w *Wizard) slotTime(item CartItem) (time.Time, error) {
	at, err := time.ParseInLocation("2006-01-02 15:04", item.Date+" "+item.Time, w.venue)
	if err != nil {
		return time.Time{}, fmt.Errorf("wizard: bad cart slot %q %q: %w", item.Date, item.Time, err)
	}
	return at, nil
}
