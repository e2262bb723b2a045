package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopRunsJobsInOrder(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, loop.Submit(func() { order = append(order, i) }))
	}
	require.NoError(t, loop.Do(context.Background(), func() {}))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLoopDoAfterClose(t *testing.T) {
	loop := NewLoop()
	loop.Close()
	loop.Close()

	assert.True(t, loop.Closed())
	assert.False(t, loop.Submit(func() {}))
	assert.ErrorIs(t, loop.Do(context.Background(), func() {}), ErrLoopClosed)
}

func TestLoopDoHonoursContext(t *testing.T) {
	loop := NewLoop()
	defer loop.Close()

	release := make(chan struct{})
	loop.Submit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := loop.Do(ctx, func() {})
	close(release)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
