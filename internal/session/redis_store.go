// Package session keeps per-account state in Redis: Bluesky sessions, the
// persisted selection blob, mute settings and revoked API tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mutesky/api/internal/bsky"
	"mutesky/api/internal/mutes"
	"mutesky/api/internal/selection"
)

const (
	sessionPrefix   = "bsky-session:"
	selectionPrefix = "selection:"
	settingsPrefix  = "mute-settings:"
	revokedPrefix   = "revoked:"

	// Refresh tokens issued by the PDS live for roughly this long.
	sessionTTL = 90 * 24 * time.Hour
)

// sessionData is what gets stored per DID.
type sessionData struct {
	bsky.Session
	SavedAt time.Time `json:"saved_at"`
}

// RedisStore implements session and selection storage using Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveSession(ctx context.Context, session bsky.Session) error {
	if session.DID == "" {
		return fmt.Errorf("save session: missing did")
	}
	data, err := json.Marshal(sessionData{Session: session, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionPrefix+session.DID, data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadSession(ctx context.Context, did string) (bsky.Session, bool, error) {
	var data sessionData
	ok, err := s.getJSON(ctx, sessionPrefix+did, &data)
	if err != nil || !ok {
		return bsky.Session{}, false, err
	}
	return data.Session, true, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, did string) error {
	if err := s.client.Del(ctx, sessionPrefix+did).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveSelection stores the selection blob. It never expires.
func (s *RedisStore) SaveSelection(ctx context.Context, did string, snapshot selection.Snapshot) error {
	payload, err := snapshot.Encode()
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, selectionPrefix+did, payload, 0).Err(); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadSelection(ctx context.Context, did string) (selection.Snapshot, bool, error) {
	payload, err := s.client.Get(ctx, selectionPrefix+did).Bytes()
	if errors.Is(err, redis.Nil) {
		return selection.Snapshot{}, false, nil
	}
	if err != nil {
		return selection.Snapshot{}, false, fmt.Errorf("load selection: %w", err)
	}
	snapshot, err := selection.DecodeSnapshot(payload)
	if err != nil {
		return selection.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func (s *RedisStore) SaveSettings(ctx context.Context, did string, settings mutes.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, settingsPrefix+did, data, 0).Err(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the defaults when nothing was saved.
func (s *RedisStore) LoadSettings(ctx context.Context, did string) (mutes.Settings, error) {
	settings := mutes.DefaultSettings()
	if _, err := s.getJSON(ctx, settingsPrefix+did, &settings); err != nil {
		return mutes.DefaultSettings(), err
	}
	return settings, nil
}

// RevokeToken remembers a revoked API token hash until it would have expired
// anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedPrefix+tokenHash, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, into any) (bool, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
