package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	val       []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// SweepInterval is how often a Memory drops expired entries in the
// background.
const SweepInterval = time.Minute

// Memory is an in-process Store. It is used for tests and single-instance
// local runs. Expired entries are dropped on access and by a periodic sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock is NewMemory with an injectable clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := &Memory{entries: make(map[string]entry), now: now, stop: make(chan struct{})}
	go m.sweep(SweepInterval)
	return m
}

// Close stops the background sweep.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) sweep(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.purge()
		}
	}
}

// purge deletes every expired entry and reports how many it removed.
func (m *Memory) purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{val: append([]byte(nil), val...), expiresAt: m.deadline(ttl)}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, fallbackTTL time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.lookup(key); ok {
		if n, err := strconv.ParseInt(string(e.val), 10, 64); err == nil {
			n++
			e.val = []byte(strconv.FormatInt(n, 10))
			m.entries[key] = e
			return n, nil
		}
	}
	m.entries[key] = entry{
		val:       []byte(strconv.FormatInt(IncrFallback, 10)),
		expiresAt: m.deadline(fallbackTTL),
	}
	return IncrFallback, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if _, ok := m.lookup(k); ok {
			n++
		}
	}
	return n
}

// lookup must be called with mu held.
func (m *Memory) lookup(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}
