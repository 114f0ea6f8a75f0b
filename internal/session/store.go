package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// streamsSuffix names the set of streams a session is watching.
	streamsSuffix = ":streams"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour

	// Status constants for the session state machine.
	StatusIdle     = "idle"
	StatusWatching = "watching"
)

// Session represents a viewer's session state stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	Status     string `redis:"status"`      // idle | watching
	Server     string `redis:"server"`      // which WS server instance
	Sound      bool   `redis:"sound"`       // keystroke effects wanted
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this WS server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, serverName), nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create stores a new session in Redis with idle status and 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          sessionID,
		"status":      StatusIdle,
		"server":      s.serverName,
		"sound":       true,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// AddStream records that the session watches streamID and marks it
// watching.
func (s *Store) AddStream(ctx context.Context, sessionID, streamID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key+streamsSuffix, streamID)
	pipe.Expire(ctx, key+streamsSuffix, SessionTTL)
	pipe.HSet(ctx, key, "status", StatusWatching, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveStream forgets streamID and drops the session back to idle when it
// watches nothing else. It returns the number of streams still watched.
func (s *Store) RemoveStream(ctx context.Context, sessionID, streamID string) (int64, error) {
	key := SessionPrefix + sessionID
	if err := s.client.SRem(ctx, key+streamsSuffix, streamID).Err(); err != nil {
		return 0, err
	}
	left, err := s.client.SCard(ctx, key+streamsSuffix).Result()
	if err != nil {
		return 0, err
	}
	if left == 0 {
		err = s.client.HSet(ctx, key, "status", StatusIdle, "last_active", time.Now().Unix()).Err()
	}
	return left, err
}

// Streams returns the streams the session is watching.
func (s *Store) Streams(ctx context.Context, sessionID string) ([]string, error) {
	return s.client.SMembers(ctx, SessionPrefix+sessionID+streamsSuffix).Result()
}

// SetSound stores the session's sound preference.
func (s *Store) SetSound(ctx context.Context, sessionID string, enabled bool) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "sound", enabled, "last_active", time.Now().Unix()).Err()
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, key, SessionTTL)
	pipe.Expire(ctx, key+streamsSuffix, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key, key+streamsSuffix).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
