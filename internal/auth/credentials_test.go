package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memberdesk/memberdesk/internal/auth"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*auth.RedisCredentialStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return auth.NewRedisCredentialStore(client, "test:credentials", ttl), mr
}

func TestRedisCredentialStoreRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)

	expires := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &auth.Credentials{
		UserID:      aliceID,
		AccessToken: "access-1",
		ExpiresAt:   expires,
		Metadata:    map[string]string{"member_number": "M-001"},
	}))
	assert.True(t, mr.Exists("test:credentials"))
	assert.Equal(t, time.Hour, mr.TTL("test:credentials"))

	creds, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, aliceID, creds.UserID)
	assert.True(t, expires.Equal(creds.ExpiresAt))
	assert.Equal(t, "M-001", creds.Metadata["member_number"])

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists("test:credentials"))
	require.NoError(t, store.Clear(ctx))
}

func TestRedisCredentialStoreExpires(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &auth.Credentials{UserID: aliceID, AccessToken: "a"}))

	mr.FastForward(2 * time.Minute)
	creds, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestRedisCredentialStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	mr.Close()

	_, err := store.Load(context.Background())
	require.Error(t, err)
}

func TestMemoryCredentialStore(t *testing.T) {
	store := auth.NewMemoryCredentialStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &auth.Credentials{UserID: aliceID}))

	creds, err := store.Load(ctx)
	require.NoError(t, err)
	creds.UserID = "changed"

	again, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, aliceID, again.UserID)

	require.NoError(t, store.Clear(ctx))
	creds, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)
}
