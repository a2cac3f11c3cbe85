package registry

import (
	"strings"

	dErrors "mpi/pkg/domain-errors"
)

// catchmentTags letter-tag each hierarchy level in order: division, district,
// upazila, city corporation, union/urban ward, rural ward.
var catchmentTags = [maxCatchmentLevels]string{"A", "B", "C", "D", "E", "F"}

const (
	maxCatchmentLevels       = 6
	mandatoryCatchmentLevels = 2
)

// Catchment is a hierarchical geographic scope used as a partition/fan-out key
// for the denormalized indices. Invariant: the first two levels are always set,
// and a level may only be set when every shallower level is set.
type Catchment struct {
	levels []string
}

// NewCatchment builds a catchment from level codes in hierarchy order. Trailing
// absent levels may be omitted entirely.
func NewCatchment(codes ...string) (Catchment, error) {
	if len(codes) > maxCatchmentLevels {
		return Catchment{}, dErrors.New(dErrors.CodeInvalidRequest, "catchment accepts at most 6 levels")
	}

	trimmed := make([]string, 0, len(codes))
	for _, code := range codes {
		trimmed = append(trimmed, strings.TrimSpace(code))
	}

	// Levels must form a gap-free prefix of the hierarchy.
	depth := len(trimmed)
	for i, code := range trimmed {
		if code == "" {
			depth = i
			break
		}
	}
	for _, code := range trimmed[depth:] {
		if code != "" {
			return Catchment{}, dErrors.New(dErrors.CodeInvalidRequest, "catchment level set without its parent level")
		}
	}
	if depth < mandatoryCatchmentLevels {
		return Catchment{}, dErrors.New(dErrors.CodeInvalidRequest, "catchment requires division and district")
	}

	return Catchment{levels: trimmed[:depth]}, nil
}

// Depth returns the number of populated levels.
func (c Catchment) Depth() int { return len(c.levels) }

// ID returns the full catchment id with each level tagged by its hierarchy
// letter, e.g. "A10B20C30".
func (c Catchment) ID() string {
	var b strings.Builder
	for i, code := range c.levels {
		b.WriteString(catchmentTags[i])
		b.WriteString(code)
	}
	return b.String()
}

// AllIDs returns the prefix id at every populated depth starting from the
// mandatory pair, deepest last. Each id is a strict prefix of the next; index
// fan-out writes one row per id.
func (c Catchment) AllIDs() []string {
	if len(c.levels) < mandatoryCatchmentLevels {
		return nil
	}
	ids := make([]string, 0, len(c.levels)-1)
	var b strings.Builder
	for i, code := range c.levels {
		b.WriteString(catchmentTags[i])
		b.WriteString(code)
		if i+1 >= mandatoryCatchmentLevels {
			ids = append(ids, b.String())
		}
	}
	return ids
}
