package wizard

import (
	"time"

	"github.com/google/uuid"

	"github.com/halcyonwell/booking-widget/internal/identity"
	"github.com/halcyonwell/booking-widget/internal/mindbody"
)

// Command is a typed state transition. The closed set of implementations
// replaces string-keyed action dispatch; Apply matches on the concrete
// type, so an unhandled command is a compile-visible default case rather
// than a silent no-op.
type Command interface {
	isCommand()
}

// SelectService picks a service, or deselects it when the same service
// is picked again.
type SelectService struct {
	Service ServiceSelection
}

// SelectStaff picks a provider for the selected service. A nil StaffID
// means "any staff".
type SelectStaff struct {
	StaffID *int
	Name    string
}

// SelectDate picks a day; any previously picked time is cleared.
type SelectDate struct {
	Date string
}

// SelectTime picks a slot on the selected date.
type SelectTime struct {
	Time string
}

// AddToCart turns the current selection into a cart item.
type AddToCart struct{}

// RemoveCartItem drops one item by its local id.
type RemoveCartItem struct {
	LocalID string
}

// SetPromo applies a validated promo discount to the cart. Validation
// happens before dispatch; the reducer only records the outcome.
type SetPromo struct {
	Code        string
	DiscountPct float64
}

// MarkAuthenticated records a successful login or registration.
type MarkAuthenticated struct {
	User *identity.User
}

// CompleteBooking moves a checked-out cart to confirmation.
type CompleteBooking struct{}

// BookAnother starts a fresh cart; the session stays authenticated.
type BookAnother struct{}

// Reset clears everything back to the first step.
type Reset struct{}

func (SelectService) isCommand()     {}
func (SelectStaff) isCommand()       {}
func (SelectDate) isCommand()        {}
func (SelectTime) isCommand()        {}
func (AddToCart) isCommand()         {}
func (RemoveCartItem) isCommand()    {}
func (SetPromo) isCommand()          {}
func (MarkAuthenticated) isCommand() {}
func (CompleteBooking) isCommand()   {}
func (BookAnother) isCommand()       {}
func (Reset) isCommand()             {}

// Apply reduces a command into the state. It returns an error when the
// command is not legal from the current step; the state is left
// untouched in that case.
func Apply(s *State, cmd Command) error {
	switch c := cmd.(type) {
	case SelectService:
		if s.SelectedService != nil && s.SelectedService.ID == c.Service.ID {
			// Re-selecting deselects and clears everything downstream.
			s.clearSelections()
			s.Step = StepServiceSelection
			break
		}
		s.clearSelections()
		s.SelectedService = &c.Service
		s.Step = StepServiceSelection

	case SelectStaff:
		if s.SelectedService == nil {
			return mindbody.NewValidationError("select a service before staff")
		}
		s.SelectedStaff = &StaffSelection{ID: c.StaffID, Name: c.Name}
		s.SelectedDate = ""
		s.SelectedTime = ""
		s.Step = StepDateSelection

	case SelectDate:
		if s.Step != StepDateSelection {
			return mindbody.NewValidationError("cannot pick a date from step %q", s.Step)
		}
		s.SelectedDate = c.Date
		s.SelectedTime = ""

	case SelectTime:
		if s.Step != StepDateSelection || s.SelectedDate == "" {
			return mindbody.NewValidationError("cannot pick a time without a date")
		}
		s.SelectedTime = c.Time

	case AddToCart:
		if s.SelectedService == nil || s.SelectedDate == "" || s.SelectedTime == "" {
			return mindbody.NewValidationError("incomplete selection, cannot add to cart")
		}
		item := CartItem{
			LocalID:                uuid.NewString(),
			ServiceID:              s.SelectedService.ID,
			ServiceName:            s.SelectedService.Name,
			ServicePrice:           s.SelectedService.Price,
			ServiceDurationMinutes: s.SelectedService.DurationMinutes,
			Date:                   s.SelectedDate,
			Time:                   s.SelectedTime,
		}
		if s.SelectedStaff != nil {
			item.StaffID = s.SelectedStaff.ID
			item.StaffName = s.SelectedStaff.Name
		}
		s.Cart.Items = append(s.Cart.Items, item)
		s.Cart.Recompute()
		if s.Authenticated {
			s.Step = StepCheckout
		} else {
			s.Step = StepAuth
		}

	case RemoveCartItem:
		kept := s.Cart.Items[:0]
		for _, item := range s.Cart.Items {
			if item.LocalID != c.LocalID {
				kept = append(kept, item)
			}
		}
		s.Cart.Items = kept
		s.Cart.Recompute()
		if len(s.Cart.Items) == 0 {
			s.clearSelections()
			s.Step = StepServiceSelection
		}

	case SetPromo:
		s.Cart.PromoCode = c.Code
		s.Cart.DiscountPct = c.DiscountPct
		s.Cart.Recompute()

	case MarkAuthenticated:
		s.Authenticated = true
		s.User = c.User
		if s.Step == StepAuth {
			s.Step = StepCheckout
		}

	case CompleteBooking:
		if s.Step != StepCheckout {
			return mindbody.NewValidationError("cannot confirm from step %q", s.Step)
		}
		s.Step = StepConfirmation

	case BookAnother:
		s.Cart = Cart{Items: []CartItem{}, TaxRate: s.Cart.TaxRate}
		s.clearSelections()
		s.Step = StepServiceSelection

	case Reset:
		*s = *NewState(s.SessionID, s.Cart.TaxRate)

	default:
		return mindbody.NewValidationError("unknown command %T", cmd)
	}

	s.UpdatedAt = time.Now().UTC()
	return nil
}
