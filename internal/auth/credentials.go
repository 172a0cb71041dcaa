package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Credentials are the tokens persisted between runs, the server-side
// equivalent of the browser's local storage.
type Credentials struct {
	UserID       string            `json:"user_id"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	ExpiresAt    time.Time         `json:"expires_at"`
	IssuedAt     time.Time         `json:"issued_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CredentialStore persists Credentials. Load returns nil, nil when nothing
// is stored.
type CredentialStore interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
	Clear(ctx context.Context) error
}

// MemoryCredentialStore keeps credentials in process memory.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

// NewMemoryCredentialStore constructs an empty in-memory store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Load(ctx context.Context) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return nil, nil
	}
	c := *s.creds
	return &c, nil
}

func (s *MemoryCredentialStore) Save(ctx context.Context, creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if creds == nil {
		s.creds = nil
		return nil
	}
	c := *creds
	s.creds = &c
	return nil
}

func (s *MemoryCredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()
	return nil
}

// RedisCredentialStore keeps credentials in Redis under a single key.
type RedisCredentialStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCredentialStore constructs a store writing to key. A zero ttl
// keeps the entry until it is cleared.
func NewRedisCredentialStore(client *redis.Client, key string, ttl time.Duration) *RedisCredentialStore {
	if key == "" {
		key = "memberdesk:credentials"
	}
	return &RedisCredentialStore{client: client, key: key, ttl: ttl}
}

func (s *RedisCredentialStore) Load(ctx context.Context) (*Credentials, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: load credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("auth: decode credentials: %w", err)
	}
	return &creds, nil
}

func (s *RedisCredentialStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil {
		return s.Clear(ctx)
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("auth: encode credentials: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("auth: save credentials: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("auth: clear credentials: %w", err)
	}
	return nil
}

var (
	_ CredentialStore = (*MemoryCredentialStore)(nil)
	_ CredentialStore = (*RedisCredentialStore)(nil)
)
