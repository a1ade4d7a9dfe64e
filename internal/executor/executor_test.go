package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alitto/pond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-selection-engine/internal/config"
)

func TestSubmit_ReturnsValue(t *testing.T) {
	pool := pond.New(2, 10)
	defer pool.StopAndWait()

	v, err := Submit(context.Background(), pool, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestSubmit_PropagatesError(t *testing.T) {
	pool := pond.New(1, 10)
	defer pool.StopAndWait()

	boom := errors.New("boom")
	_, err := Submit(context.Background(), pool, func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}

func TestSubmit_DeadlineWhileRunning(t *testing.T) {
	pool := pond.New(1, 10)
	defer pool.StopAndWait()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Submit(ctx, pool, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmit_QueuedTaskAbandoned(t *testing.T) {
	pool := pond.New(1, 10)

	release := make(chan struct{})
	go func() {
		_, _ = Submit(context.Background(), pool, func(context.Context) (int, error) {
			<-release
			return 0, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	var ran atomic.Bool
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Submit(ctx, pool, func(context.Context) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	close(release)
	pool.StopAndWait()

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran.Load())
}

func TestSubmit_RecoversPanic(t *testing.T) {
	pool := pond.New(1, 10)
	defer pool.StopAndWait()

	_, err := Submit(context.Background(), pool, func(context.Context) (int, error) { panic("bad script") })
	assert.ErrorContains(t, err, "task panic")
}

func TestNew_UsesConfiguredSizes(t *testing.T) {
	e := New(config.Defaults(), nil)
	defer e.Stop()

	assert.Equal(t, 8, e.Lightweight.MaxWorkers())
	assert.Equal(t, 32, e.Background.MaxWorkers())
	assert.NotNil(t, e.Clock)
}
