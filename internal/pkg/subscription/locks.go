package subscription

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
)

const (
	ttlMapShards = 8

	// lockSafetyTTL bounds how long a processing lock can outlive a crashed or
	// hung flow before the sweeper reclaims it.
	lockSafetyTTL = 2 * time.Minute

	// DefaultLockCooldown keeps the lock held briefly after completion so
	// rapid repeated clicks collapse into one flow.
	DefaultLockCooldown = 2 * time.Second

	// DefaultSessionTTL is how long an unconfirmed payment session is replayed
	// instead of creating a duplicate.
	DefaultSessionTTL = 30 * time.Minute
)

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

type ttlShard struct {
	mu      sync.Mutex
	entries map[string]ttlEntry
}

// ttlMap is a sharded, TTL-expiring map with a background sweeper. It backs
// the per-process processing locks and pending-session cache; losing its
// contents degrades to "create fresh", never to incorrect ledger state.
type ttlMap struct {
	shards [ttlMapShards]*ttlShard
	stop   chan struct{}
	once   sync.Once
}

func newTTLMap(sweepInterval time.Duration) *ttlMap {
	m := &ttlMap{stop: make(chan struct{})}
	for i := range m.shards {
		m.shards[i] = &ttlShard{entries: make(map[string]ttlEntry)}
	}
	if sweepInterval > 0 {
		go m.sweeper(sweepInterval)
	}
	return m
}

func (m *ttlMap) shard(key string) *ttlShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%ttlMapShards]
}

func (m *ttlMap) get(key string) (interface{}, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

func (m *ttlMap) set(key string, value interface{}, ttl time.Duration) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = ttlEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

// setIfAbsent stores the value only when no live entry exists, returning
// whether the store happened.
func (m *ttlMap) setIfAbsent(key string, value interface{}, ttl time.Duration) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return false
	}
	s.entries[key] = ttlEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true
}

func (m *ttlMap) delete(key string) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (m *ttlMap) sweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			for _, s := range m.shards {
				s.mu.Lock()
				for k, e := range s.entries {
					if now.After(e.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

func (m *ttlMap) close() {
	m.once.Do(func() { close(m.stop) })
}

// ProcessingLocks is the per-key mutex table guarding concurrent duplicate
// submissions from the same user. Best-effort and per-process; ledger
// consistency never depends on it.
type ProcessingLocks struct {
	m *ttlMap
}

// NewProcessingLocks creates a lock table with an expiry sweeper.
func NewProcessingLocks() *ProcessingLocks {
	return &ProcessingLocks{m: newTTLMap(30 * time.Second)}
}

// TryAcquire takes the lock for a flow key, failing fast when it is held.
func (l *ProcessingLocks) TryAcquire(key string) bool {
	return l.m.setIfAbsent(key, struct{}{}, lockSafetyTTL)
}

// ReleaseAfter frees the lock once the cooldown has passed. A zero cooldown
// releases immediately.
func (l *ProcessingLocks) ReleaseAfter(key string, cooldown time.Duration) {
	if cooldown <= 0 {
		l.m.delete(key)
		return
	}
	time.AfterFunc(cooldown, func() { l.m.delete(key) })
}

// Close stops the sweeper.
func (l *ProcessingLocks) Close() { l.m.close() }

// SessionCache holds in-flight payment sessions so a back-button or
// double-click replays the same session instead of creating another.
type SessionCache struct {
	m   *ttlMap
	ttl time.Duration
}

// NewSessionCache creates a session cache with the default TTL.
func NewSessionCache() *SessionCache {
	return &SessionCache{m: newTTLMap(time.Minute), ttl: DefaultSessionTTL}
}

// Get returns the cached session for a flow key, or nil.
func (c *SessionCache) Get(key string) *payments.CheckoutSession {
	v, ok := c.m.get(key)
	if !ok {
		return nil
	}
	sess, ok := v.(*payments.CheckoutSession)
	if !ok {
		return nil
	}
	return sess
}

// Put caches a session, capped at both the cache TTL and the session's own
// processor-side expiry.
func (c *SessionCache) Put(key string, sess *payments.CheckoutSession) {
	ttl := c.ttl
	if !sess.ExpiresAt.IsZero() {
		if until := time.Until(sess.ExpiresAt); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return
	}
	c.m.set(key, sess, ttl)
}

// Drop invalidates the cached session for a flow key.
func (c *SessionCache) Drop(key string) {
	c.m.delete(key)
}

// Close stops the sweeper.
func (c *SessionCache) Close() { c.m.close() }
