// Package mindbody wraps the upstream Mindbody-style scheduling API:
// token issuance, session types, bookable items, available dates, client
// lookup/creation and appointment booking.
package mindbody

import "time"

// SessionType is an upstream bookable offering type.
type SessionType struct {
	ID                int     `json:"Id"`
	Name              string  `json:"Name"`
	Description       string  `json:"Description,omitempty"`
	DefaultTimeLength int     `json:"DefaultTimeLength,omitempty"` // minutes
	Price             float64 `json:"Price,omitempty"`
	Type              string  `json:"Type,omitempty"`
}

// SessionTypeRef is the reduced session type embedded in availability rows.
type SessionTypeRef struct {
	ID                int    `json:"Id"`
	Name              string `json:"Name"`
	DefaultTimeLength int    `json:"DefaultTimeLength,omitempty"`
}

// StaffRef identifies a provider attached to an availability or booking.
type StaffRef struct {
	ID   int    `json:"Id"`
	Name string `json:"Name"`
}

// Availability is one upstream bookable item: a session type, optional
// staff, and a concrete start time.
type Availability struct {
	SessionType   *SessionTypeRef `json:"SessionType"`
	Staff         *StaffRef       `json:"Staff,omitempty"`
	StartDateTime time.Time       `json:"StartDateTime"`
	EndDateTime   time.Time       `json:"BookableEndDateTime,omitempty"`
	Price         float64         `json:"Price,omitempty"`
	LocationID    int             `json:"LocationId,omitempty"`
}

// ClientRecord is an upstream client. Upstream is authoritative; local
// site accounts are correlated to it by email.
type ClientRecord struct {
	ID                    string `json:"Id"`
	FirstName             string `json:"FirstName"`
	LastName              string `json:"LastName"`
	Email                 string `json:"Email,omitempty"`
	Phone                 string `json:"MobilePhone,omitempty"`
	AddressLine1          string `json:"AddressLine1,omitempty"`
	City                  string `json:"City,omitempty"`
	State                 string `json:"State,omitempty"`
	PostalCode            string `json:"PostalCode,omitempty"`
	SendAccountEmails     bool   `json:"SendAccountEmails"`
	SendAccountTexts      bool   `json:"SendAccountTexts"`
	SendPromotionalEmails bool   `json:"SendPromotionalEmails"`
	SendPromotionalTexts  bool   `json:"SendPromotionalTexts"`
}

// PaymentInfo carries opaque payment details forwarded to upstream. No
// processing happens locally.
type PaymentInfo struct {
	Type            string  `json:"Type"`
	Amount          float64 `json:"Amount,omitempty"`
	CreditCardToken string  `json:"CreditCardToken,omitempty"`
	Notes           string  `json:"Notes,omitempty"`
}

// AppointmentConfirmation is upstream's record of a booked appointment.
type AppointmentConfirmation struct {
	ID            int       `json:"Id"`
	Status        string    `json:"Status"`
	StartDateTime time.Time `json:"StartDateTime"`
	EndDateTime   time.Time `json:"EndDateTime,omitempty"`
	SessionTypeID int       `json:"SessionTypeId"`
	ClientID      string    `json:"ClientId"`
	StaffID       int       `json:"StaffId,omitempty"`
	LocationID    int       `json:"LocationId,omitempty"`
	Notes         string    `json:"Notes,omitempty"`
}
