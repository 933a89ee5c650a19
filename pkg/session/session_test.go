package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a := New("ana@example.com", MethodFace, []byte{1, 2})
	b := New("ana@example.com", MethodFace, []byte{1, 2})
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, MethodFace, a.Method)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	s := New("ana@example.com", MethodPassword, []byte("wrapped"))
	require.NoError(t, store.Save(ctx, s, time.Minute))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, s, time.Hour))
	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, "missing"))
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedisStore(rdb)

	s := New("ana@example.com", MethodFace, []byte{0, 1, 2, 255})
	s.CreatedAt = s.CreatedAt.Truncate(time.Second)
	require.NoError(t, store.Save(ctx, s, 10*time.Minute))

	assert.Equal(t, 10*time.Minute, mr.TTL(keyPrefix+s.ID))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.WrappedKey, got.WrappedKey)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	mr.FastForward(11 * time.Minute)
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, s, time.Minute))
	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreCorruptPayload(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	require.NoError(t, mr.Set(keyPrefix+"bad", "{not json"))

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err = NewRedisStore(rdb).Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	_, err = NewRedisClient(context.Background(), "::not a url")
	assert.Error(t, err)
}

func TestIssuerRoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("super-secret"), time.Hour)
	s := New("ana@example.com", MethodFace, nil)

	tok, err := issuer.Sign(s)
	require.NoError(t, err)

	claims, err := issuer.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, s.ID, claims.SessionID)
	assert.Equal(t, "ana@example.com", claims.Contact)
}

func TestIssuerRejects(t *testing.T) {
	s := New("ana@example.com", MethodPassword, nil)

	expired := NewIssuer([]byte("secret"), -time.Second)
	expiredTok, err := expired.Sign(s)
	require.NoError(t, err)

	otherTok, err := NewIssuer([]byte("right-secret"), time.Hour).Sign(s)
	require.NoError(t, err)

	noneTok, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{SessionID: s.ID}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		issuer *Issuer
		token  string
	}{
		{"expired", expired, expiredTok},
		{"wrong secret", NewIssuer([]byte("wrong-secret"), time.Hour), otherTok},
		{"malformed", NewIssuer([]byte("k"), time.Hour), "not.a.jwt"},
		{"alg none", NewIssuer([]byte("k"), time.Hour), noneTok},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.issuer.Parse(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
