package ohttp

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownKey is returned when an encapsulated request references a
// key identifier that is neither current nor within the retention
// window of a previous epoch. Fatal for the request, not the process.
var ErrUnknownKey = errors.New("ohttp: unknown key configuration")

// ErrNoKeyConfig is returned when the manager holds no configuration at
// all, which only happens during a startup race.
var ErrNoKeyConfig = errors.New("ohttp: no key configuration available")

// maxPreviousConfigs bounds retention so current plus previous never
// fill the one-byte identifier space; at least one ID stays free for
// the next rotation.
const maxPreviousConfigs = 254

type retiredKey struct {
	cfg       *KeyConfig
	retiredAt time.Time
}

// keySet is an immutable snapshot of the current and retained previous
// configurations. Readers load it through one atomic pointer so rotation
// is never observed half-applied.
type keySet struct {
	current  *KeyConfig
	previous []retiredKey
}

// Manager is the single source of truth for which configurations are
// valid for decapsulation and which one is advertised for new
// encapsulation. It holds no timer; the server wires rotation.
type Manager struct {
	overlap time.Duration
	mu      sync.Mutex // serializes rotation
	set     atomic.Pointer[keySet]
}

// NewManager creates a manager with current as the advertised
// configuration. Previous configurations remain decryptable for overlap
// after being rotated out.
func NewManager(current *KeyConfig, overlap time.Duration) *Manager {
	m := &Manager{overlap: overlap}
	m.set.Store(&keySet{current: current})
	return m
}

// Current returns the configuration new clients should encapsulate
// against.
func (m *Manager) Current() *KeyConfig {
	return m.set.Load().current
}

// Overlap returns how long a rotated-out configuration keeps
// decapsulating.
func (m *Manager) Overlap() time.Duration {
	return m.overlap
}

// Rotate installs next as current. The old current becomes a previous
// entry valid for decapsulation only; entries past the overlap window
// are dropped, and the oldest are evicted beyond maxPreviousConfigs
// even when a short rotation period outpaces the overlap. In-flight
// response contexts are unaffected since they hold their own derived
// state.
func (m *Manager) Rotate(next *KeyConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.set.Load()
	now := time.Now()
	previous := make([]retiredKey, 0, len(old.previous)+1)
	previous = append(previous, retiredKey{cfg: old.current, retiredAt: now})
	for _, rk := range old.previous {
		if now.Sub(rk.retiredAt) < m.overlap {
			previous = append(previous, rk)
		}
	}
	// Entries are ordered newest first, so truncation evicts the oldest.
	if len(previous) > maxPreviousConfigs {
		previous = previous[:maxPreviousConfigs]
	}
	m.set.Store(&keySet{current: next, previous: previous})
}

// ResolveForDecapsulation returns the configuration for keyID, searching
// the current epoch and previous epochs still inside the overlap window.
func (m *Manager) ResolveForDecapsulation(keyID uint8) (*KeyConfig, error) {
	set := m.set.Load()
	if set.current == nil {
		return nil, ErrNoKeyConfig
	}
	if set.current.ID == keyID {
		return set.current, nil
	}
	now := time.Now()
	for _, rk := range set.previous {
		if rk.cfg.ID == keyID && now.Sub(rk.retiredAt) < m.overlap {
			return rk.cfg, nil
		}
	}
	return nil, ErrUnknownKey
}

// AdvertiseBytes returns the binary key configuration list served to
// clients: the current config first, then previous configs still inside
// the overlap window, each with its 2-byte length prefix.
func (m *Manager) AdvertiseBytes() ([]byte, error) {
	set := m.set.Load()
	if set.current == nil {
		return nil, ErrNoKeyConfig
	}
	out, err := set.current.MarshalPublicConfig()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, rk := range set.previous {
		if now.Sub(rk.retiredAt) >= m.overlap {
			continue
		}
		b, err := rk.cfg.MarshalPublicConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// NextKeyID returns the identifier a freshly rotated-in configuration
// should use. IDs wrap around the single byte space, skipping any ID
// still valid for decapsulation.
func (m *Manager) NextKeyID() uint8 {
	set := m.set.Load()
	inUse := map[uint8]bool{set.current.ID: true}
	for _, rk := range set.previous {
		inUse[rk.cfg.ID] = true
	}
	id := set.current.ID
	for i := 0; i < 256; i++ {
		id++
		if !inUse[id] {
			return id
		}
	}
	// Unreachable while Rotate bounds retention below the ID space; wrap
	// past the current ID rather than spin.
	return set.current.ID + 1
}
