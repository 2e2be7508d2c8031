package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims carries the user profile inside the signed token so
// CurrentUser needs no store round-trip.
type sessionClaims struct {
	Email            string `json:"email"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Phone            string `json:"phone,omitempty"`
	UpstreamClientID string `json:"clientId,omitempty"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a session manager. ttl bounds token lifetime.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, errors.New("identity: session secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the user.
func (m *Sessions) Issue(user *User) (string, error) {
	now := m.now()
	claims := sessionClaims{
		Email:            user.Email,
		FirstName:        user.FirstName,
		LastName:         user.LastName,
		Phone:            user.Phone,
		UpstreamClientID: user.UpstreamClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and rebuilds the user it was issued for.
func (m *Sessions) Parse(tokenString string) (*User, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("identity: parse session token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("identity: invalid session token")
	}
	return &User{
		ID:               claims.Subject,
		Email:            claims.Email,
		FirstName:        claims.FirstName,
		LastName:         claims.LastName,
		Phone:            claims.Phone,
		UpstreamClientID: claims.UpstreamClientID,
	}, nil
}
