// Package clients resolves or creates upstream client records from
// contact info. Upstream is the authority; local site accounts correlate
// to it by email.
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

// Identity looks up and creates upstream client records.
type Identity struct {
	gateway *mindbody.Gateway
	logger  *logging.Logger
}

// NewIdentity creates a client identity service.
func NewIdentity(gateway *mindbody.Gateway, logger *logging.Logger) *Identity {
	if logger == nil {
		logger = logging.Default()
	}
	return &Identity{gateway: gateway, logger: logger}
}

// FindByEmail searches upstream for a client with the given email and
// returns the first result. A miss returns ErrNotFound, which callers
// treat as a valid "absent" outcome.
func (s *Identity) FindByEmail(ctx context.Context, email string) (*mindbody.ClientRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, mindbody.NewValidationError("email is required")
	}

	q := url.Values{}
	q.Set("SearchText", email)

	var wrapped struct {
		Clients []mindbody.ClientRecord `json:"Clients"`
	}
	if err := s.gateway.Do(ctx, http.MethodGet, "/client/clients", mindbody.RequestOptions{Query: q}, &wrapped); err != nil {
		return nil, fmt.Errorf("clients: search by email: %w", err)
	}
	if len(wrapped.Clients) == 0 {
		return nil, mindbody.ErrNotFound
	}
	// Upstream returns at most one exact match for a full email; take the
	// first result without local disambiguation.
	return &wrapped.Clients[0], nil
}

// CreateOrUpdate resolves an existing client by email or creates one.
// When a record already exists it is returned unchanged; no field-level
// merge happens.
func (s *Identity) CreateOrUpdate(ctx context.Context, rec mindbody.ClientRecord) (*mindbody.ClientRecord, error) {
	if strings.TrimSpace(rec.FirstName) == "" || strings.TrimSpace(rec.LastName) == "" {
		return nil, mindbody.NewValidationError("first and last name are required")
	}

	if email := strings.TrimSpace(rec.Email); email != "" {
		existing, err := s.FindByEmail(ctx, email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, mindbody.ErrNotFound) {
			return nil, err
		}
	}

	rec.SendAccountEmails = true
	rec.SendAccountTexts = true
	rec.SendPromotionalEmails = false
	rec.SendPromotionalTexts = false

	var wrapped struct {
		Client *mindbody.ClientRecord `json:"Client"`
	}
	if err := s.gateway.Do(ctx, http.MethodPost, "/client/addclient", mindbody.RequestOptions{Body: rec}, &wrapped); err != nil {
		return nil, fmt.Errorf("clients: create: %w", err)
	}
	if wrapped.Client == nil {
		return nil, &mindbody.APIError{Kind: mindbody.ErrKindEmptyResponse, Message: "create client returned no record"}
	}
	s.logger.Info("created upstream client", "client_id", wrapped.Client.ID)
	return wrapped.Client, nil
}
