package fetch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppingProgress struct {
	done   atomic.Int64
	length int64
	step   int64
}

func (p *steppingProgress) BytesCompleted() int64 {
	return min(p.done.Add(p.step), p.length)
}

func (p *steppingProgress) Length() int64 { return p.length }

func TestWaitComplete_Finishes(t *testing.T) {
	p := &steppingProgress{length: 1000, step: 100}
	ticks := 0
	err := waitComplete(context.Background(), p, time.Millisecond, time.Second, func(int64, int64) { ticks++ })
	require.NoError(t, err)
	assert.Positive(t, ticks)
}

func TestWaitComplete_Stalls(t *testing.T) {
	p := &steppingProgress{length: 1000}
	p.done.Store(300)

	start := time.Now()
	err := waitComplete(context.Background(), p, 5*time.Millisecond, 40*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitComplete_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &steppingProgress{length: 1000}

	err := waitComplete(ctx, p, time.Hour, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
