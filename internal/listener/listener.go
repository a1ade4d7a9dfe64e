package listener

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Refresher rebuilds an in-memory view after the database changed.
type Refresher interface {
	Refresh(ctx context.Context) error
}

const debounce = 200 * time.Millisecond

// ListenAndRefresh blocks on LISTEN channel and calls r.Refresh after every burst
// of notifications until ctx ends. A lost connection is replaced after a jittered
// backoff, followed by a full refresh to cover changes missed meanwhile.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string, baseBackoff time.Duration) {
	resync := false
	for ctx.Err() == nil {
		err := listen(ctx, pool, r, channel, resync)
		if ctx.Err() != nil {
			break
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("listener connection lost")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		resync = true
	}
	log.Info().Msg("listener stopped")
}

func listen(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string, resync bool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn for listen: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	log.Info().Str("channel", channel).Msg("listening for custom audience changes")
	if resync {
		refresh(ctx, r, 0)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			ntf, err := conn.Conn().WaitForNotification(waitCtx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case events <- ntf.Payload:
			case <-waitCtx.Done():
				errc <- waitCtx.Err()
				return
			}
		}
	}()

	coalesce(ctx, events, debounce, r)
	cancel()
	return <-errc
}

// coalesce refreshes once per burst of events. The first event opens a window and
// the refresh runs when it closes, covering every event seen in between. Pending
// events are flushed when the channel closes.
func coalesce(ctx context.Context, events <-chan string, window time.Duration, r Refresher) {
	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending int
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case buyer, ok := <-events:
			if !ok {
				if pending > 0 && ctx.Err() == nil {
					refresh(ctx, r, pending)
				}
				return
			}
			log.Debug().Str("buyer", buyer).Msg("inventory change")
			pending++
			if fire == nil {
				timer = time.NewTimer(window)
				fire = timer.C
			}
		case <-fire:
			fire = nil
			refresh(ctx, r, pending)
			pending = 0
		}
	}
}

func refresh(ctx context.Context, r Refresher, changes int) {
	log.Info().Int("changes", changes).Msg("refreshing inventory snapshot")
	if err := r.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("refresh snapshot error")
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64()
	return time.Duration(float64(base) * factor)
}
