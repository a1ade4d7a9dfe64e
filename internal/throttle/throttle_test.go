package throttle

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestThrottler_TryAcquire(t *testing.T) {
	clk := clock.NewMock()
	th := New(1, clk)

	assert.True(t, th.TryAcquire(SelectAds, "com.example.app"))
	assert.False(t, th.TryAcquire(SelectAds, "com.example.app"))

	// different api and different caller have their own buckets
	assert.True(t, th.TryAcquire(ReportImpression, "com.example.app"))
	assert.True(t, th.TryAcquire(SelectAds, "com.other.app"))

	clk.Add(time.Second)
	assert.True(t, th.TryAcquire(SelectAds, "com.example.app"))
}

func TestThrottler_Reset(t *testing.T) {
	clk := clock.NewMock()
	th := New(1, clk)

	assert.True(t, th.TryAcquire(SelectAds, "pkg"))
	assert.False(t, th.TryAcquire(SelectAds, "pkg"))

	th.Reset(3)
	for i := 0; i < 3; i++ {
		assert.True(t, th.TryAcquire(SelectAds, "pkg"), "permit %d", i)
	}
	assert.False(t, th.TryAcquire(SelectAds, "pkg"))
}

func TestThrottler_IdleBucketsEvicted(t *testing.T) {
	th := newThrottler(1, clock.NewMock(), 20*time.Millisecond)

	for i := 0; i < 10000; i++ {
		th.TryAcquire(SelectAds, fmt.Sprintf("com.caller%d", i))
	}
	assert.Equal(t, 10000, th.Buckets())

	assert.Eventually(t, func() bool {
		th.limiters.DeleteExpired()
		return th.Buckets() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIdleTTL_CoversRefill(t *testing.T) {
	assert.Equal(t, time.Minute, idleTTL(1))
	assert.Equal(t, time.Minute, idleTTL(0))
	assert.Equal(t, 128*time.Second, idleTTL(1.0/128))
}
