package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

type recorder struct {
	mu    sync.Mutex
	calls []time.Time
}

func (r *recorder) add() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, time.Now())
	return len(r.calls)
}

func (r *recorder) gap(i int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i].Sub(r.calls[i-1])
}

func TestRunRetriesOnceThenWaitsInterval(t *testing.T) {
	const interval = 80 * time.Millisecond
	rec := &recorder{}

	err := Run(context.Background(), interval, func(context.Context) error {
		n := rec.add()
		switch {
		case n <= 3:
			return errFlaky
		case n == 4:
			return nil
		case n == 5:
			return errFlaky
		case n == 6:
			return Stop(errFlaky)
		}
		return nil
	})
	require.ErrorIs(t, err, errFlaky)

	// 1 fails -> immediate retry (2) fails -> interval -> 3 fails, retry already
	// used -> interval -> 4 ok -> interval -> 5 fails -> immediate 6
	assert.Less(t, rec.gap(1), interval/2)
	assert.GreaterOrEqual(t, rec.gap(2), interval)
	assert.GreaterOrEqual(t, rec.gap(3), interval)
	assert.GreaterOrEqual(t, rec.gap(4), interval)
	assert.Less(t, rec.gap(5), interval/2)
}

func TestRunStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Run(ctx, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestStopNil(t *testing.T) {
	assert.NoError(t, Stop(nil))
}
