package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyonwell/booking-widget/pkg/logging"
)

// Store persists wizard state in redis, one key per session, expiring
// after the configured TTL of inactivity.
type Store struct {
	redis   *redis.Client
	ttl     time.Duration
	taxRate float64
	logger  *logging.Logger
}

// NewStore creates a wizard state store.
func NewStore(rdb *redis.Client, ttl time.Duration, taxRate float64, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Store{redis: rdb, ttl: ttl, taxRate: taxRate, logger: logger}
}

// Load returns the session's state. A missing key yields a fresh default
// state; so does a corrupt record, which is logged and overwritten
// rather than left partially populated.
func (s *Store) Load(ctx context.Context, sessionID string) (*State, error) {
	data, err := s.redis.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return NewState(sessionID, s.taxRate), nil
		}
		return nil, fmt.Errorf("wizard: load state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("corrupt wizard state, resetting to defaults", "session_id", sessionID, "error", err)
		fresh := NewState(sessionID, s.taxRate)
		if err := s.Save(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	st.SessionID = sessionID
	if st.Cart.Items == nil {
		st.Cart.Items = []CartItem{}
	}
	return &st, nil
}

// Save writes the state and refreshes its TTL.
func (s *Store) Save(ctx context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("wizard: encode state: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(st.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("wizard: save state: %w", err)
	}
	return nil
}

// Delete removes a session's state.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("wizard: delete state: %w", err)
	}
	return nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("wizard:%s", sessionID)
}
