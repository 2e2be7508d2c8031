// Package booking executes appointment bookings against the upstream API
// with partial-failure semantics and records confirmed appointments in a
// local ledger.
package booking

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/halcyonwell/booking-widget/internal/clients"
	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/internal/observability/metrics"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

var bookingTracer = otel.Tracer("bookwidget.internal.booking")

// Appointment is one booking request.
type Appointment struct {
	ClientID      string
	SessionTypeID int
	ServiceName   string
	StaffID       *int
	LocationID    int // 0 means the configured default (-99 sentinel)
	StartDateTime time.Time
	Notes         string
}

// Failure pairs an input appointment with the reason it was rejected.
type Failure struct {
	Appointment  Appointment
	ErrorMessage string
}

// Result aggregates per-appointment outcomes of a multi-booking call.
type Result struct {
	Successful []mindbody.AppointmentConfirmation
	Failed     []Failure
}

// Success reports the aggregate outcome: a batch fails as a whole only
// when nothing succeeded and at least one appointment failed. Partial
// failure is a success-with-errors outcome.
func (r *Result) Success() bool {
	return !(len(r.Successful) == 0 && len(r.Failed) > 0)
}

// OrchestratorConfig configures the booking orchestrator.
type OrchestratorConfig struct {
	Gateway  *mindbody.Gateway
	Identity *clients.Identity

	// Records is the optional local ledger; failures to write it never
	// fail a booking.
	Records *Records

	DefaultLocationID int
	Logger            *logging.Logger
	Metrics           *metrics.BookingMetrics
}

// Orchestrator books appointments upstream.
type Orchestrator struct {
	gateway           *mindbody.Gateway
	identity          *clients.Identity
	records           *Records
	defaultLocationID int
	logger            *logging.Logger
	metrics           *metrics.BookingMetrics
}

// NewOrchestrator creates a booking orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	locationID := cfg.DefaultLocationID
	if locationID == 0 {
		locationID = -99
	}
	return &Orchestrator{
		gateway:           cfg.Gateway,
		identity:          cfg.Identity,
		records:           cfg.Records,
		defaultLocationID: locationID,
		logger:            logger,
		metrics:           cfg.Metrics,
	}
}

type addAppointmentRequest struct {
	ClientID      string                `json:"ClientId"`
	SessionTypeID int                   `json:"SessionTypeId"`
	StaffID       *int                  `json:"StaffId,omitempty"`
	LocationID    int                   `json:"LocationId"`
	StartDateTime time.Time             `json:"StartDateTime"`
	Notes         string                `json:"Notes,omitempty"`
	ApplyPayment  bool                  `json:"ApplyPayment"`
	SendEmail     bool                  `json:"SendEmail"`
	Test          bool                  `json:"Test"`
	PaymentInfo   *mindbody.PaymentInfo `json:"PaymentInfo,omitempty"`
}

// BookSingle books one appointment. Required fields are validated locally
// before anything is sent upstream.
func (o *Orchestrator) BookSingle(ctx context.Context, appt Appointment, payment *mindbody.PaymentInfo) (*mindbody.AppointmentConfirmation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book_single")
	defer span.End()

	if appt.ClientID == "" {
		return nil, mindbody.NewValidationError("client id is required")
	}
	if appt.SessionTypeID == 0 {
		return nil, mindbody.NewValidationError("session type id is required")
	}
	if appt.StartDateTime.IsZero() {
		return nil, mindbody.NewValidationError("start date/time is required")
	}

	locationID := appt.LocationID
	if locationID == 0 {
		locationID = o.defaultLocationID
	}

	req := addAppointmentRequest{
		ClientID:      appt.ClientID,
		SessionTypeID: appt.SessionTypeID,
		StaffID:       appt.StaffID,
		LocationID:    locationID,
		StartDateTime: appt.StartDateTime,
		Notes:         appt.Notes,
		ApplyPayment:  true,
		SendEmail:     true,
		Test:          false,
		PaymentInfo:   payment,
	}

	var wrapped struct {
		Appointment *mindbody.AppointmentConfirmation `json:"Appointment"`
	}
	if err := o.gateway.Do(ctx, http.MethodPost, "/appointment/addappointment", mindbody.RequestOptions{Body: req}, &wrapped); err != nil {
		span.RecordError(err)
		o.metrics.ObserveBooking("failed")
		return nil, fmt.Errorf("booking: add appointment: %w", err)
	}
	if wrapped.Appointment == nil {
		o.metrics.ObserveBooking("failed")
		return nil, &mindbody.APIError{Kind: mindbody.ErrKindEmptyResponse, Message: "booking returned no appointment"}
	}

	o.metrics.ObserveBooking("booked")
	return wrapped.Appointment, nil
}

// BookMany resolves the client once, then books each appointment
// sequentially in input order. Payment info is attached only to the first
// appointment: one payment covers the whole cart. A single failure never
// aborts the batch.
func (o *Orchestrator) BookMany(ctx context.Context, appts []Appointment, client mindbody.ClientRecord, payment *mindbody.PaymentInfo) (*Result, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.book_many")
	defer span.End()

	resolved, err := o.identity.CreateOrUpdate(ctx, client)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: resolve client: %w", err)
	}

	result := &Result{}
	for i, appt := range appts {
		appt.ClientID = resolved.ID

		var pay *mindbody.PaymentInfo
		if i == 0 {
			pay = payment
		}

		conf, err := o.BookSingle(ctx, appt, pay)
		if err != nil {
			o.logger.Warn("appointment booking failed",
				"session_type_id", appt.SessionTypeID,
				"start", appt.StartDateTime,
				"error", err,
			)
			result.Failed = append(result.Failed, Failure{Appointment: appt, ErrorMessage: err.Error()})
			continue
		}
		result.Successful = append(result.Successful, *conf)
		o.recordConfirmed(ctx, appt, resolved, conf)
	}

	o.logger.Info("booking batch completed",
		"client_id", resolved.ID,
		"succeeded", len(result.Successful),
		"failed", len(result.Failed),
	)
	return result, nil
}

// recordConfirmed writes the ledger row best-effort.
func (o *Orchestrator) recordConfirmed(ctx context.Context, appt Appointment, client *mindbody.ClientRecord, conf *mindbody.AppointmentConfirmation) {
	if o.records == nil {
		return
	}
	if err := o.records.Insert(ctx, Record{
		ClientID:       client.ID,
		ClientEmail:    client.Email,
		SessionTypeID:  appt.SessionTypeID,
		ServiceName:    appt.ServiceName,
		StaffID:        appt.StaffID,
		StartTime:      conf.StartDateTime,
		ConfirmationID: conf.ID,
	}); err != nil {
		o.logger.Warn("failed to record confirmed booking", "confirmation_id", conf.ID, "error", err)
	}
}
