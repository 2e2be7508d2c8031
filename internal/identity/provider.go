// Package identity implements the widget's site login: local accounts
// with bcrypt-hashed credentials, correlated to upstream client records
// by email, with JWT session tokens.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/halcyonwell/booking-widget/internal/clients"
	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords
	// alike; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrEmailTaken is returned when registering an existing email.
	ErrEmailTaken = errors.New("identity: email already registered")
)

// User is the authenticated site visitor handed to the booking flow.
type User struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Phone            string `json:"phone,omitempty"`
	UpstreamClientID string `json:"upstreamClientId,omitempty"`
}

// Registration is the profile submitted on sign-up.
type Registration struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Provider is the identity surface the booking flow depends on.
type Provider interface {
	Login(ctx context.Context, email, password string) (*User, error)
	Register(ctx context.Context, reg Registration) (*User, error)
	CurrentUser(ctx context.Context, sessionToken string) (*User, error)
}

// account is the persisted shape of a local login.
type account struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Phone            string    `json:"phone,omitempty"`
	PasswordHash     []byte    `json:"password_hash"`
	UpstreamClientID string    `json:"upstream_client_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Service is the redis-backed Provider implementation.
type Service struct {
	redis    *redis.Client
	upstream *clients.Identity
	sessions *Sessions
	logger   *logging.Logger
}

// NewService creates an identity service.
func NewService(rdb *redis.Client, upstream *clients.Identity, sessions *Sessions, logger *logging.Logger) *Service {
	if rdb == nil {
		panic("identity: redis client required")
	}
	if sessions == nil {
		panic("identity: session manager required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{redis: rdb, upstream: upstream, sessions: sessions, logger: logger}
}

// Login authenticates a local account. A successful login always
// re-resolves the upstream client id by email, creating the upstream
// record only if absent.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	acct, err := s.loadAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user := userFromAccount(acct)
	s.attachUpstreamClient(ctx, acct, user)
	return user, nil
}

// Register creates a local account and the matching upstream client.
func (s *Service) Register(ctx context.Context, reg Registration) (*User, error) {
	email := normalizeEmail(reg.Email)
	if email == "" {
		return nil, fmt.Errorf("identity: email is required")
	}
	if strings.TrimSpace(reg.FirstName) == "" || strings.TrimSpace(reg.LastName) == "" {
		return nil, fmt.Errorf("identity: first and last name are required")
	}
	if len(reg.Password) < 8 {
		return nil, fmt.Errorf("identity: password must be at least 8 characters")
	}

	exists, err := s.redis.Exists(ctx, accountKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("identity: check existing account: %w", err)
	}
	if exists > 0 {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	acct := &account{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(reg.FirstName),
		LastName:     strings.TrimSpace(reg.LastName),
		Phone:        strings.TrimSpace(reg.Phone),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.saveAccount(ctx, acct); err != nil {
		return nil, err
	}

	user := userFromAccount(acct)
	s.attachUpstreamClient(ctx, acct, user)
	s.logger.Info("registered site account", "email", email)
	return user, nil
}

// CurrentUser resolves the user behind a session token, or nil when the
// token is absent or invalid.
func (s *Service) CurrentUser(ctx context.Context, sessionToken string) (*User, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return nil, nil
	}
	user, err := s.sessions.Parse(sessionToken)
	if err != nil {
		return nil, nil
	}
	return user, nil
}

// IssueSession returns a signed session token for a logged-in user.
func (s *Service) IssueSession(user *User) (string, error) {
	return s.sessions.Issue(user)
}

// attachUpstreamClient resolves or creates the upstream client record and
// stores its id on the account. Upstream being down degrades to a login
// without a resolved client id; checkout re-resolves.
func (s *Service) attachUpstreamClient(ctx context.Context, acct *account, user *User) {
	if s.upstream == nil {
		return
	}
	rec, err := s.upstream.CreateOrUpdate(ctx, mindbody.ClientRecord{
		FirstName: acct.FirstName,
		LastName:  acct.LastName,
		Email:     acct.Email,
		Phone:     acct.Phone,
	})
	if err != nil {
		s.logger.Warn("failed to resolve upstream client", "email", acct.Email, "error", err)
		return
	}
	acct.UpstreamClientID = rec.ID
	user.UpstreamClientID = rec.ID
	if err := s.saveAccount(ctx, acct); err != nil {
		s.logger.Warn("failed to persist upstream client id", "email", acct.Email, "error", err)
	}
}

func (s *Service) loadAccount(ctx context.Context, email string) (*account, error) {
	email = normalizeEmail(email)
	data, err := s.redis.Get(ctx, accountKey(email)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("identity: load account: %w", err)
	}
	var acct account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("identity: decode account: %w", err)
	}
	return &acct, nil
}

func (s *Service) saveAccount(ctx context.Context, acct *account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("identity: encode account: %w", err)
	}
	if err := s.redis.Set(ctx, accountKey(acct.Email), data, 0).Err(); err != nil {
		return fmt.Errorf("identity: save account: %w", err)
	}
	return nil
}

func userFromAccount(acct *account) *User {
	return &User{
		ID:               acct.ID,
		Email:            acct.Email,
		FirstName:        acct.FirstName,
		LastName:         acct.LastName,
		Phone:            acct.Phone,
		UpstreamClientID: acct.UpstreamClientID,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func accountKey(email string) string {
	return fmt.Sprintf("account:%s", email)
}
