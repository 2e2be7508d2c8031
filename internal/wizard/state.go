// Package wizard drives the multi-step booking flow: service and staff
// selection, date/time picking, auth, checkout and confirmation, with
// per-session state persisted so a page reload resumes mid-flow.
package wizard

import (
	"time"

	"github.com/halcyonwell/booking-widget/internal/identity"
)

// Step identifies where the visitor is in the flow.
type Step string

const (
	StepServiceSelection Step = "service_selection"
	StepDateSelection    Step = "date_selection"
	StepAuth             Step = "auth"
	StepCheckout         Step = "checkout"
	StepConfirmation     Step = "confirmation"
)

// ServiceSelection is the offering the visitor picked from the catalog.
type ServiceSelection struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"durationMinutes"`
}

// StaffSelection is the chosen provider. A nil ID means "any staff".
type StaffSelection struct {
	ID   *int   `json:"id,omitempty"`
	Name string `json:"name"`
}

// CartItem is one appointment awaiting checkout.
type CartItem struct {
	LocalID                string  `json:"localId"`
	ServiceID              int     `json:"serviceId"`
	ServiceName            string  `json:"serviceName"`
	ServicePrice           float64 `json:"servicePrice"`
	ServiceDurationMinutes int     `json:"serviceDurationMinutes"`
	StaffID                *int    `json:"staffId,omitempty"`
	StaffName              string  `json:"staffName,omitempty"`
	Date                   string  `json:"date"` // 2006-01-02
	Time                   string  `json:"time"` // 15:04
}

// Cart holds the selected appointments and their totals. Totals are
// recomputed on every mutation, never patched incrementally.
type Cart struct {
	Items       []CartItem `json:"items"`
	TaxRate     float64    `json:"taxRate"`
	PromoCode   string     `json:"promoCode,omitempty"`
	DiscountPct float64    `json:"discountPct,omitempty"`
	Subtotal    float64    `json:"subtotal"`
	Discount    float64    `json:"discount"`
	Total       float64    `json:"total"`
}

// Recompute rebuilds subtotal, discount and total from the items.
func (c *Cart) Recompute() {
	var subtotal float64
	for _, item := range c.Items {
		subtotal += item.ServicePrice
	}
	c.Subtotal = subtotal
	c.Discount = subtotal * c.DiscountPct
	c.Total = subtotal*(1+c.TaxRate) - c.Discount
}

// State is the per-session wizard state. Every mutation goes through
// Apply and is persisted immediately afterwards.
type State struct {
	SessionID string `json:"sessionId"`
	Step      Step   `json:"step"`

	SelectedService *ServiceSelection `json:"selectedService,omitempty"`
	SelectedStaff   *StaffSelection   `json:"selectedStaff,omitempty"`
	SelectedDate    string            `json:"selectedDate,omitempty"`
	SelectedTime    string            `json:"selectedTime,omitempty"`

	Cart          Cart           `json:"cart"`
	Authenticated bool           `json:"authenticated"`
	User          *identity.User `json:"user,omitempty"`

	// FetchSeq rises on every times fetch; responses carrying an older
	// sequence are discarded instead of applied.
	FetchSeq  uint64    `json:"fetchSeq"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewState returns the safe default for a session: first step, empty
// cart, unauthenticated.
func NewState(sessionID string, taxRate float64) *State {
	return &State{
		SessionID: sessionID,
		Step:      StepServiceSelection,
		Cart:      Cart{Items: []CartItem{}, TaxRate: taxRate},
		UpdatedAt: time.Now().UTC(),
	}
}

func (s *State) clearSelections() {
	s.SelectedService = nil
	s.SelectedStaff = nil
	s.SelectedDate = ""
	s.SelectedTime = ""
}
