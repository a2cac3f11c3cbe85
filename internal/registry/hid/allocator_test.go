package hid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceIssuesUniqueLuhnValidIDs(t *testing.T) {
	alloc := NewSequence(9800000001)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := alloc.Next(context.Background())
		require.NoError(t, err)
		require.False(t, seen[id.String()])
		seen[id.String()] = true
		assert.True(t, luhnValid(id.String()), "id %s fails its check digit", id)
	}
}

func luhnValid(s string) bool {
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
