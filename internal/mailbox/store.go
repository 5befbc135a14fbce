// Package mailbox mediates access to the shared slot store that lets a
// payjoin sender and receiver exchange messages without connecting to
// each other. At most one slot exists per (session ID, direction); a new
// write replaces the previous payload and resets its TTL.
package mailbox

import (
	"context"
	"time"
)

// Direction names one of the two message flows inside a session.
type Direction string

const (
	// DirRequest carries sender→receiver messages. Request slots stay
	// readable until their TTL expires so repeated polls observe them.
	DirRequest Direction = "request"

	// DirResponse carries receiver→sender messages. Response slots are
	// consumed by the first successful read.
	DirResponse Direction = "response"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirRequest || d == DirResponse
}

// consumeOnRead reports whether a successful read removes the slot.
func (d Direction) consumeOnRead() bool {
	return d == DirResponse
}

// Store is the exchange point shared by all relay processes. Cross
// process coordination (single-slot semantics, write-before-notify
// ordering) is delegated entirely to the backend; implementations must
// not rely on in-process locking for it.
type Store interface {
	// Put stores payload in the (id, dir) slot, replacing any previous
	// payload and resetting the TTL, then notifies waiters. The
	// notification is published only after the write is acknowledged.
	Put(ctx context.Context, id string, dir Direction, payload []byte, ttl time.Duration) error

	// Get returns the pending payload, or (nil, nil) when the slot is
	// empty. It never blocks.
	Get(ctx context.Context, id string, dir Direction) ([]byte, error)

	// WaitFor blocks until the slot holds a payload or ctx expires.
	// A deadline elapsing is a normal outcome reported as (nil, nil),
	// not an error; errors mean the backend is unreachable.
	WaitFor(ctx context.Context, id string, dir Direction) ([]byte, error)

	Close() error
}
