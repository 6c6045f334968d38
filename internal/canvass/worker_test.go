package canvass

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/require"
)

// The consumer marks the Kafka offset as soon as the handler returns, so
// the handler must not return before the submitted work has finished.
func TestRunOnPoolWaitsForCompletion(t *testing.T) {
	pool, err := ants.NewPool(1)
	require.NoError(t, err)

	defer pool.Release()

	app := &Canvass{WorkerPool: pool}

	var finished atomic.Bool

	app.runOnPool(func() {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	require.True(t, finished.Load())
}

func TestRunOnPoolRunsInlineWhenPoolRejects(t *testing.T) {
	pool, err := ants.NewPool(1)
	require.NoError(t, err)

	pool.Release()

	app := &Canvass{WorkerPool: pool}

	ran := false

	app.runOnPool(func() {
		ran = true
	})

	require.True(t, ran)
}
