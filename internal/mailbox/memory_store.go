package mailbox

import (
	"context"
	"sync"
	"time"

	"pjdir/internal/constants"
)

type slot struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryStore is a single-process implementation used for development
// and tests. It mirrors the Redis semantics: last-write-wins slots with
// TTL, and waiters woken only after the slot is written.
type MemoryStore struct {
	mu      sync.Mutex
	slots   map[string]slot
	waiters map[string][]chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewMemoryStore() *MemoryStore {
	st := &MemoryStore{
		slots:   make(map[string]slot),
		waiters: make(map[string][]chan struct{}),
		done:    make(chan struct{}),
	}
	go st.cleanupLoop()
	return st
}

func (st *MemoryStore) Put(_ context.Context, id string, dir Direction, payload []byte, ttl time.Duration) error {
	key := slotKey(id, dir)
	buf := make([]byte, len(payload))
	copy(buf, payload)

	st.mu.Lock()
	st.slots[key] = slot{payload: buf, expiresAt: time.Now().Add(ttl)}
	for _, ch := range st.waiters[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	st.mu.Unlock()
	return nil
}

func (st *MemoryStore) Get(_ context.Context, id string, dir Direction) ([]byte, error) {
	key := slotKey(id, dir)

	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.slots[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(s.expiresAt) {
		delete(st.slots, key)
		return nil, nil
	}
	if dir.consumeOnRead() {
		delete(st.slots, key)
	}
	return s.payload, nil
}

func (st *MemoryStore) WaitFor(ctx context.Context, id string, dir Direction) ([]byte, error) {
	key := slotKey(id, dir)
	ch := make(chan struct{}, 1)

	st.mu.Lock()
	st.waiters[key] = append(st.waiters[key], ch)
	st.mu.Unlock()
	defer st.removeWaiter(key, ch)

	// Re-check after registering so a write that raced the registration
	// is not missed.
	if payload, err := st.Get(ctx, id, dir); err != nil || payload != nil {
		return payload, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-ch:
			payload, err := st.Get(ctx, id, dir)
			if err != nil || payload != nil {
				return payload, err
			}
		}
	}
}

func (st *MemoryStore) removeWaiter(key string, ch chan struct{}) {
	st.mu.Lock()
	defer st.mu.Unlock()
	ws := st.waiters[key]
	for i, w := range ws {
		if w == ch {
			st.waiters[key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(st.waiters[key]) == 0 {
		delete(st.waiters, key)
	}
}

func (st *MemoryStore) Close() error {
	st.once.Do(func() { close(st.done) })
	return nil
}

func (st *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			now := time.Now()
			st.mu.Lock()
			for key, s := range st.slots {
				if now.After(s.expiresAt) {
					delete(st.slots, key)
				}
			}
			st.mu.Unlock()
		}
	}
}
