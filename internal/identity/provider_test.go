package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonwell/booking-widget/internal/clients"
	"github.com/halcyonwell/booking-widget/internal/mindbody"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var upstream *clients.Identity
	if handler != nil {
		ts := httptest.NewServer(handler)
		t.Cleanup(ts.Close)
		gw := mindbody.NewGateway(mindbody.GatewayConfig{BaseURL: ts.URL, APIKey: "k", SiteID: "s"})
		upstream = clients.NewIdentity(gw, nil)
	}

	sessions, err := NewSessions("test-secret", time.Hour)
	require.NoError(t, err)
	return NewService(rdb, upstream, sessions, nil)
}

func clientStub(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/client/clients":
		_, _ = w.Write([]byte(`{"Clients":[{"Id":"100000009","FirstName":"Jo","LastName":"Nguyen","Email":"jo@example.com"}]}`))
	case "/client/addclient":
		_, _ = w.Write([]byte(`{"Client":{"Id":"100000009","FirstName":"Jo","LastName":"Nguyen","Email":"jo@example.com"}}`))
	default:
		http.NotFound(w, r)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestService(t, clientStub)
	ctx := context.Background()

	user, err := s.Register(ctx, Registration{
		Email: "Jo@Example.com ", Password: "hunter2hunter2",
		FirstName: "Jo", LastName: "Nguyen",
	})
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com", user.Email, "email normalized on registration")
	assert.Equal(t, "100000009", user.UpstreamClientID)

	back, err := s.Login(ctx, "jo@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, back.ID)
	assert.Equal(t, "100000009", back.UpstreamClientID)
}

func TestLogin_WrongPassword(t *testing.T) {
	s := newTestService(t, clientStub)
	ctx := context.Background()

	_, err := s.Register(ctx, Registration{
		Email: "jo@example.com", Password: "hunter2hunter2",
		FirstName: "Jo", LastName: "Nguyen",
	})
	require.NoError(t, err)

	_, err = s.Login(ctx, "jo@example.com", "not-the-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.Login(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s := newTestService(t, clientStub)
	ctx := context.Background()

	reg := Registration{Email: "jo@example.com", Password: "hunter2hunter2", FirstName: "Jo", LastName: "Nguyen"}
	_, err := s.Register(ctx, reg)
	require.NoError(t, err)

	_, err = s.Register(ctx, reg)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_ValidatesInput(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	_, err := s.Register(ctx, Registration{Password: "hunter2hunter2", FirstName: "Jo", LastName: "N"})
	assert.Error(t, err, "missing email")

	_, err = s.Register(ctx, Registration{Email: "jo@example.com", Password: "short", FirstName: "Jo", LastName: "N"})
	assert.Error(t, err, "short password")

	_, err = s.Register(ctx, Registration{Email: "jo@example.com", Password: "hunter2hunter2", FirstName: "Jo"})
	assert.Error(t, err, "missing last name")
}

func TestLogin_UpstreamDownStillLogsIn(t *testing.T) {
	s := newTestService(t, clientStub)
	ctx := context.Background()

	_, err := s.Register(ctx, Registration{
		Email: "jo@example.com", Password: "hunter2hunter2",
		FirstName: "Jo", LastName: "Nguyen",
	})
	require.NoError(t, err)

	// Point the service at an upstream that refuses every request.
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(down.Close)
	gw := mindbody.NewGateway(mindbody.GatewayConfig{BaseURL: down.URL, APIKey: "k", SiteID: "s"})
	s.upstream = clients.NewIdentity(gw, nil)

	user, err := s.Login(ctx, "jo@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, "100000009", user.UpstreamClientID, "previously resolved id kept")
}

func TestCurrentUser_RoundTrip(t *testing.T) {
	s := newTestService(t, clientStub)
	ctx := context.Background()

	user, err := s.Register(ctx, Registration{
		Email: "jo@example.com", Password: "hunter2hunter2",
		FirstName: "Jo", LastName: "Nguyen",
	})
	require.NoError(t, err)

	token, err := s.IssueSession(user)
	require.NoError(t, err)

	back, err := s.CurrentUser(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, back)
	assert.Equal(t, user.ID, back.ID)
	assert.Equal(t, user.Email, back.Email)
	assert.Equal(t, user.UpstreamClientID, back.UpstreamClientID)
}

func TestCurrentUser_InvalidToken(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	back, err := s.CurrentUser(ctx, "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, back)

	back, err = s.CurrentUser(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, back)
}

func TestSessions_Expiry(t *testing.T) {
	sessions, err := NewSessions("test-secret", time.Hour)
	require.NoError(t, err)

	user := &User{ID: "u1", Email: "jo@example.com"}
	token, err := sessions.Issue(user)
	require.NoError(t, err)

	_, err = sessions.Parse(token)
	require.NoError(t, err)

	sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = sessions.Parse(token)
	assert.Error(t, err, "expired token rejected")
}
