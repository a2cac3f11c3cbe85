// Package hid allocates health ids for newly registered patients. Allocation
// is external to the registry proper; the default implementation here is a
// single-node sequence suitable for one write coordinator.
package hid

import (
	"context"
	"strconv"
	"sync"

	"mpi/pkg/domain"
)

// Allocator hands out fresh, never-reused health ids.
type Allocator interface {
	Next(ctx context.Context) (domain.HealthID, error)
}

// Sequence issues sequential numeric ids with a trailing Luhn check digit.
type Sequence struct {
	mu   sync.Mutex
	next uint64
}

// NewSequence builds a Sequence starting at start.
func NewSequence(start uint64) *Sequence {
	return &Sequence{next: start}
}

// Next issues the next health id. Safe for concurrent use.
func (s *Sequence) Next(_ context.Context) (domain.HealthID, error) {
	s.mu.Lock()
	n := s.next
	s.next++
	s.mu.Unlock()

	base := strconv.FormatUint(n, 10)
	return domain.HealthID(base + strconv.Itoa(luhnDigit(base))), nil
}

// luhnDigit computes the check digit that makes base+digit Luhn-valid.
func luhnDigit(base string) int {
	sum := 0
	double := true
	for i := len(base) - 1; i >= 0; i-- {
		d := int(base[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
