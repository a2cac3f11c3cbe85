// Package domain holds identifier value types shared across the registry.
package domain

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	dErrors "mpi/pkg/domain-errors"
)

// HealthID is the durable patient identifier. It is allocated externally, never
// reused, and immutable for the life of the record.
type HealthID string

func (h HealthID) String() string { return string(h) }

// IsZero reports whether the id is absent.
func (h HealthID) IsZero() bool { return h == "" }

// ParseHealthID constructs a HealthID from external input.
//
// Usage: call from handlers/adapters when parsing requests; direct casting
// bypasses validation.
func ParseHealthID(s string) (HealthID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidRequest, "health id cannot be empty")
	}
	return HealthID(s), nil
}

// EventID is a time-ordered unique identifier with an embedded wall-clock
// timestamp. Ordering is total: embedded timestamp first, then entropy. The
// textual form is fixed-width hex, so lexical order equals EventID order; the
// stores rely on that for range scans.
type EventID struct {
	// TS is the embedded timestamp in Unix milliseconds.
	TS uint64
	// Entropy disambiguates ids issued within the same millisecond. The high 32
	// bits identify the issuing node, the low 32 bits are a per-node counter.
	Entropy uint64
}

const encodedLen = 32

// IsZero reports whether the id is absent. Zero is never issued by a Generator.
func (e EventID) IsZero() bool { return e.TS == 0 && e.Entropy == 0 }

// Time extracts the embedded wall-clock timestamp.
func (e EventID) Time() time.Time { return time.UnixMilli(int64(e.TS)).UTC() }

// Compare orders ids by (embedded timestamp, then entropy). Returns -1, 0 or 1.
func (e EventID) Compare(other EventID) int {
	switch {
	case e.TS < other.TS:
		return -1
	case e.TS > other.TS:
		return 1
	case e.Entropy < other.Entropy:
		return -1
	case e.Entropy > other.Entropy:
		return 1
	}
	return 0
}

// Before reports whether e orders strictly before other.
func (e EventID) Before(other EventID) bool { return e.Compare(other) < 0 }

// After reports whether e orders strictly after other.
func (e EventID) After(other EventID) bool { return e.Compare(other) > 0 }

func (e EventID) String() string {
	return fmt.Sprintf("%016x%016x", e.TS, e.Entropy)
}

// MarshalText encodes the id in its sortable hex form for JSON and SQL use.
func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes the fixed-width hex form.
func (e *EventID) UnmarshalText(text []byte) error {
	id, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*e = id
	return nil
}

// ParseEventID constructs an EventID from its textual form.
func ParseEventID(s string) (EventID, error) {
	if len(s) != encodedLen {
		return EventID{}, dErrors.New(dErrors.CodeInvalidRequest, "event id must be 32 hex characters")
	}
	ts, err := strconv.ParseUint(s[:16], 16, 64)
	if err != nil {
		return EventID{}, dErrors.New(dErrors.CodeInvalidRequest, "event id timestamp is not hex")
	}
	entropy, err := strconv.ParseUint(s[16:], 16, 64)
	if err != nil {
		return EventID{}, dErrors.New(dErrors.CodeInvalidRequest, "event id entropy is not hex")
	}
	return EventID{TS: ts, Entropy: entropy}, nil
}

// MinEventIDAt returns the smallest id carrying the given timestamp. Feed scans
// use it to turn an inclusive date bound into an id bound.
func MinEventIDAt(t time.Time) EventID {
	return EventID{TS: uint64(t.UnixMilli())}
}

// Prev returns the id immediately before e in the total order. Stores expose
// strictly-greater-than scans; an inclusive bound b is expressed as
// "after b.Prev()".
func (e EventID) Prev() EventID {
	if e.Entropy > 0 {
		return EventID{TS: e.TS, Entropy: e.Entropy - 1}
	}
	if e.TS == 0 {
		return EventID{}
	}
	return EventID{TS: e.TS - 1, Entropy: ^uint64(0)}
}

// Generator issues strictly increasing EventIDs for a single node. The clock is
// never allowed to move an issued id backwards: when the wall clock stalls or
// rewinds, the counter half of the entropy keeps the order strict.
type Generator struct {
	mu      sync.Mutex
	node    uint32
	counter uint32
	last    EventID
	now     func() time.Time
}

// NewGenerator builds a Generator with a random node identity.
func NewGenerator() *Generator {
	id := uuid.New()
	return &Generator{
		node: binary.BigEndian.Uint32(id[:4]),
		now:  time.Now,
	}
}

// Next issues the next id. Safe for concurrent use.
func (g *Generator) Next() EventID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := uint64(g.now().UnixMilli())
	if ts < g.last.TS {
		ts = g.last.TS
	}
	g.counter++
	id := EventID{TS: ts, Entropy: uint64(g.node)<<32 | uint64(g.counter)}
	if !id.After(g.last) {
		// Same millisecond, counter wrapped: advance the timestamp instead.
		id = EventID{TS: g.last.TS + 1, Entropy: uint64(g.node)<<32 | uint64(g.counter)}
	}
	g.last = id
	return id
}
