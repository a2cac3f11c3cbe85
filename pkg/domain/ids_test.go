package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "mpi/pkg/domain-errors"
)

func TestParseHealthID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseHealthID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequest))
	})

	t.Run("accepts any non-empty id", func(t *testing.T) {
		id, err := ParseHealthID("98001234567")
		require.NoError(t, err)
		assert.Equal(t, "98001234567", id.String())
	})
}

func TestEventID_Ordering(t *testing.T) {
	earlier := EventID{TS: 100, Entropy: 9}
	later := EventID{TS: 101, Entropy: 1}

	t.Run("timestamp dominates entropy", func(t *testing.T) {
		assert.True(t, earlier.Before(later))
		assert.True(t, later.After(earlier))
	})

	t.Run("entropy breaks timestamp ties", func(t *testing.T) {
		a := EventID{TS: 100, Entropy: 1}
		b := EventID{TS: 100, Entropy: 2}
		assert.Equal(t, -1, a.Compare(b))
		assert.Equal(t, 0, a.Compare(a))
	})

	t.Run("lexical order of encoding matches id order", func(t *testing.T) {
		assert.Less(t, earlier.String(), later.String())
	})
}

func TestEventID_TimeExtraction(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id := MinEventIDAt(at)
	assert.Equal(t, at, id.Time())
	assert.Equal(t, uint64(0), id.Entropy)
}

func TestEventID_TextRoundTrip(t *testing.T) {
	id := EventID{TS: 1_750_000_000_000, Entropy: 0xdeadbeef}
	text, err := id.MarshalText()
	require.NoError(t, err)
	require.Len(t, text, 32)

	var decoded EventID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, id, decoded)
}

func TestGenerator_Monotonic(t *testing.T) {
	gen := NewGenerator()

	prev := gen.Next()
	for i := 0; i < 10_000; i++ {
		next := gen.Next()
		require.True(t, next.After(prev), "id %s must order after %s", next, prev)
		prev = next
	}
}

func TestGenerator_ClockRewind(t *testing.T) {
	gen := NewGenerator()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return clock }

	first := gen.Next()
	clock = clock.Add(-time.Hour)
	second := gen.Next()

	assert.True(t, second.After(first), "rewinding the clock must not reorder ids")
}
