package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitter_DurationStaysInRange(t *testing.T) {
	j := NewJitter(2*time.Second, 5*time.Second)

	for i := 0; i < 200; i++ {
		d := j.Duration()
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestJitter_SwappedBoundsCollapse(t *testing.T) {
	j := NewJitter(3*time.Second, time.Second)
	assert.Equal(t, 3*time.Second, j.Duration())
}

func TestSleep_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleep_ZeroReturnsImmediately(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(NewJitter(time.Second, 2*time.Second))

	t.Run("two errors do not back off", func(t *testing.T) {
		b.RecordError()
		b.RecordError()
		assert.Equal(t, time.Second, b.Current().Min)
	})

	t.Run("third error stretches the range", func(t *testing.T) {
		b.RecordError()
		cur := b.Current()
		assert.Equal(t, 1500*time.Millisecond, cur.Min)
		assert.Equal(t, 3*time.Second, cur.Max)
	})

	t.Run("success relaxes back to base", func(t *testing.T) {
		b.RecordSuccess()
		assert.Equal(t, time.Second, b.Current().Min)
	})

	t.Run("factor is capped", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			b.RecordError()
		}
		assert.Equal(t, 8*time.Second, b.Current().Min)
	})
}
