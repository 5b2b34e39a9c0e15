package lookup

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamguard/streamguard/internal/facts"
	"github.com/streamguard/streamguard/internal/retry"
)

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet error
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

// countingStore counts lookups that reach the underlying store.
type countingStore struct {
	*MemoryStore
	mu                            sync.Mutex
	users, beneficiaries, session int
}

func (c *countingStore) UserHistory(ctx context.Context, id string) retry.Outcome[facts.UserProfile] {
	c.mu.Lock()
	c.users++
	c.mu.Unlock()
	return c.MemoryStore.UserHistory(ctx, id)
}

func (c *countingStore) BeneficiaryRisk(ctx context.Context, id string) retry.Outcome[facts.BeneficiaryRisk] {
	c.mu.Lock()
	c.beneficiaries++
	c.mu.Unlock()
	return c.MemoryStore.BeneficiaryRisk(ctx, id)
}

func (c *countingStore) Session(ctx context.Context, id string) retry.Outcome[*SessionRecord] {
	c.mu.Lock()
	c.session++
	c.mu.Unlock()
	return c.MemoryStore.Session(ctx, id)
}

func newCached(cache Cache) (*CachedStore, *countingStore) {
	store := &countingStore{MemoryStore: NewDemoStore()}
	return NewCachedStore(store, store, store, cache, time.Minute, quietLogger()), store
}

func TestCachedStore_CachesFoundRecords(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cs, store := newCached(cache)

	first, ok := cs.BeneficiaryRisk(ctx, "acc_mule").Value()
	require.True(t, ok)
	second, ok := cs.BeneficiaryRisk(ctx, "acc_mule").Value()
	require.True(t, ok)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.beneficiaries)
	assert.Equal(t, time.Minute, cache.ttls["streamguard:facts:beneficiary:acc_mule"])
}

func TestCachedStore_UserHistoryAlwaysFresh(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cs, store := newCached(cache)

	before, ok := cs.UserHistory(ctx, "user_good_history").Value()
	require.True(t, ok)

	updated := before
	updated.PreviousViolations = before.PreviousViolations + 1
	store.PutUser(updated)

	after, ok := cs.UserHistory(ctx, "user_good_history").Value()
	require.True(t, ok)
	assert.Equal(t, before.PreviousViolations+1, after.PreviousViolations)
	assert.Equal(t, 2, store.users)
	assert.Empty(t, cache.data)
}

func TestCachedStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	cs, store := newCached(newMapCache())

	a, ok := cs.Session(ctx, "tx_fraud").Value()
	require.True(t, ok)
	b, ok := cs.Session(ctx, "tx_fraud").Value()
	require.True(t, ok)

	assert.Equal(t, 1, store.session)
	assert.True(t, a.Amount.Equal(*b.Amount))
	assert.True(t, a.CreatedAt.Equal(b.CreatedAt))
	assert.Equal(t, a.UserID, b.UserID)
}

func TestCachedStore_DoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cs, store := newCached(cache)

	_, ok := cs.BeneficiaryRisk(ctx, "acc_unknown").Value()
	require.False(t, ok)
	_, ok = cs.BeneficiaryRisk(ctx, "acc_unknown").Value()
	require.False(t, ok)

	assert.Equal(t, 2, store.beneficiaries)
	assert.Empty(t, cache.data)
}

func TestCachedStore_BypassesBrokenCache(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cache.failGet = errors.New("redis down")
	cs, store := newCached(cache)

	b, ok := cs.BeneficiaryRisk(ctx, "acc_mule").Value()
	require.True(t, ok)
	assert.Equal(t, 95, b.RiskScore)
	assert.Equal(t, 1, store.beneficiaries)
}

func TestCachedStore_IgnoresCorruptEntries(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cache.data["streamguard:facts:beneficiary:acc_mule"] = []byte("{not json")
	cs, store := newCached(cache)

	_, ok := cs.BeneficiaryRisk(ctx, "acc_mule").Value()
	require.True(t, ok)
	assert.Equal(t, 1, store.beneficiaries)
}

func TestRedisCache_Integration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	ctx := context.Background()
	rc, err := NewRedisCache(ctx, url)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	_, err = rc.Get(ctx, "streamguard:test:missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, rc.Set(ctx, "streamguard:test:key", []byte("v"), time.Minute))
	got, err := rc.Get(ctx, "streamguard:test:key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
