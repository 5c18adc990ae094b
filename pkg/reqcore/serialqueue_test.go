package reqcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialQueue_EnforcesFIFOPerKey(t *testing.T) {
	q := NewSerialQueue()
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// stagger submission so ordering is deterministic
			time.Sleep(time.Duration(i) * 2 * time.Millisecond)
			_, _ = q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return &Response{StatusCode: 200}, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSerialQueue_DistinctKeysRunConcurrently(t *testing.T) {
	q := NewSerialQueue()
	start := make(chan struct{})
	var wg sync.WaitGroup
	var started int32CounterStub

	for _, key := range []string{"a", "b"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Submit(context.Background(), key, nil, func(ctx context.Context) (*Response, error) {
				started.inc()
				<-start
				return &Response{StatusCode: 200}, nil
			})
		}()
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), started.value(), "distinct keys must not serialize against each other")
	close(start)
	wg.Wait()
}

func TestSerialQueue_CancelledWhileQueuedReturnsError(t *testing.T) {
	q := NewSerialQueue()
	release := make(chan struct{})

	go func() {
		_, _ = q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
			<-release
			return &Response{StatusCode: 200}, nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Submit(ctx, "key", nil, func(ctx context.Context) (*Response, error) {
		t.Fatal("task should not run when ctx is already cancelled while queued")
		return nil, nil
	})
	require.Error(t, err)
	close(release)
}

func TestSerialQueue_StatsTrackCompletedCount(t *testing.T) {
	q := NewSerialQueue()
	for i := 0; i < 3; i++ {
		_, err := q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
			return &Response{StatusCode: 200}, nil
		})
		require.NoError(t, err)
	}

	stats := q.Stats("key")
	assert.Equal(t, int64(3), stats.CompletedTasks)
	assert.Equal(t, int64(0), stats.FailedTasks)
}

func TestSerialQueue_StatsTrackFailedCount(t *testing.T) {
	q := NewSerialQueue()
	boom := fmtErrf(ErrHTTP, "down")
	_, err := q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
		return nil, boom
	})
	require.Error(t, err)

	stats := q.Stats("key")
	assert.Equal(t, int64(0), stats.CompletedTasks)
	assert.Equal(t, int64(1), stats.FailedTasks)
}

func TestSerialQueue_DepthReflectsInFlightKeys(t *testing.T) {
	q := NewSerialQueue()
	assert.Equal(t, 0, q.Depth())

	release := make(chan struct{})
	go func() {
		_, _ = q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
			<-release
			return &Response{StatusCode: 200}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, q.Depth())
	close(release)
}

func TestSerialQueue_MaxQueueSizeRejectsOverflow(t *testing.T) {
	q := NewSerialQueue()
	release := make(chan struct{})
	opts := &SerialQueueOptions{MaxQueueSize: 1}

	go func() {
		_, _ = q.Submit(context.Background(), "key", opts, func(ctx context.Context) (*Response, error) {
			<-release
			return &Response{StatusCode: 200}, nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	go func() {
		_, _ = q.Submit(context.Background(), "key", opts, func(ctx context.Context) (*Response, error) {
			<-release
			return &Response{StatusCode: 200}, nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	_, err := q.Submit(context.Background(), "key", opts, func(ctx context.Context) (*Response, error) {
		t.Fatal("third task should have been rejected before running")
		return nil, nil
	})
	require.Error(t, err)
	var reqErr *Error
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, ErrValidation, reqErr.Type)
	close(release)
}

func TestSerialQueue_ClearSerialQueueFailsPendingTasks(t *testing.T) {
	q := NewSerialQueue()
	release := make(chan struct{})

	go func() {
		_, _ = q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
			<-release
			return &Response{StatusCode: 200}, nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	var pendingErr error
	done := make(chan struct{})
	go func() {
		_, pendingErr = q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
			t.Error("cleared task should never run")
			return nil, nil
		})
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	cleared := q.ClearSerialQueue("key")
	assert.True(t, cleared)
	<-done
	require.Error(t, pendingErr)
	close(release)
}

func TestSerialQueue_ClearSerialQueueUnknownKeyReturnsFalse(t *testing.T) {
	q := NewSerialQueue()
	assert.False(t, q.ClearSerialQueue("does-not-exist"))
}

func TestSerialQueue_RemoveSerialQueueForgetsKey(t *testing.T) {
	q := NewSerialQueue()
	_, err := q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
		return &Response{StatusCode: 200}, nil
	})
	require.NoError(t, err)

	assert.True(t, q.RemoveSerialQueue("key"))
	assert.False(t, q.RemoveSerialQueue("key"))
	assert.Equal(t, SerialQueueStats{}, q.Stats("key"))
}

func TestSerialQueue_ClearAllSerialQueues(t *testing.T) {
	q := NewSerialQueue()
	release := make(chan struct{})
	for _, key := range []string{"a", "b"} {
		key := key
		go func() {
			_, _ = q.Submit(context.Background(), key, nil, func(ctx context.Context) (*Response, error) {
				<-release
				return &Response{StatusCode: 200}, nil
			})
		}()
	}
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{}, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		go func() {
			_, _ = q.Submit(context.Background(), key, nil, func(ctx context.Context) (*Response, error) {
				t.Error("cleared task should never run")
				return nil, nil
			})
			done <- struct{}{}
		}()
	}
	time.Sleep(5 * time.Millisecond)

	cleared := q.ClearAllSerialQueues()
	assert.Equal(t, 2, cleared)
	<-done
	<-done
	close(release)
}

func TestSerialQueue_RemoveAllSerialQueues(t *testing.T) {
	q := NewSerialQueue()
	for _, key := range []string{"a", "b"} {
		_, err := q.Submit(context.Background(), key, nil, func(ctx context.Context) (*Response, error) {
			return &Response{StatusCode: 200}, nil
		})
		require.NoError(t, err)
	}

	removed := q.RemoveAllSerialQueues()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, q.Depth())
}

func TestSerialQueue_AggregateStatsRollUp(t *testing.T) {
	q := NewSerialQueue()
	ok := func(ctx context.Context) (*Response, error) { return &Response{StatusCode: 200}, nil }
	fail := func(ctx context.Context) (*Response, error) { return nil, fmtErrf(ErrHTTP, "boom") }

	_, err := q.Submit(context.Background(), "a", nil, ok)
	require.NoError(t, err)
	_, err = q.Submit(context.Background(), "a", nil, ok)
	require.NoError(t, err)
	_, err = q.Submit(context.Background(), "b", nil, fail)
	require.Error(t, err)

	agg := q.AggregateStats()
	assert.Equal(t, 2, agg.TotalQueues)
	assert.EqualValues(t, 2, agg.TotalCompletedTasks)
	assert.EqualValues(t, 1, agg.TotalFailedTasks)
	assert.EqualValues(t, 3, agg.TotalTasks)
	assert.Len(t, agg.Queues, 2)
}

func TestSerialQueue_OrderSurvivesDelayInversion(t *testing.T) {
	q := NewSerialQueue()
	delays := []time.Duration{40 * time.Millisecond, 5 * time.Millisecond, 60 * time.Millisecond, 2 * time.Millisecond, 30 * time.Millisecond}

	var mu sync.Mutex
	var completed []int

	var wg sync.WaitGroup
	for i, d := range delays {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * time.Millisecond) // deterministic submission order
			_, _ = q.Submit(context.Background(), "key", nil, func(ctx context.Context) (*Response, error) {
				time.Sleep(d)
				mu.Lock()
				completed = append(completed, i)
				mu.Unlock()
				return &Response{StatusCode: 200}, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, completed,
		"tasks with shorter delays must still complete in submission order")
}

func TestSerialQueue_ConfigBindsAtQueueCreation(t *testing.T) {
	q := NewSerialQueue()
	release := make(chan struct{})
	block := func(ctx context.Context) (*Response, error) {
		<-release
		return &Response{StatusCode: 200}, nil
	}

	go func() {
		_, _ = q.Submit(context.Background(), "key", &SerialQueueOptions{MaxQueueSize: 1}, block)
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		_, _ = q.Submit(context.Background(), "key", nil, block)
	}()
	time.Sleep(5 * time.Millisecond)

	_, err := q.Submit(context.Background(), "key", &SerialQueueOptions{MaxQueueSize: 100}, func(ctx context.Context) (*Response, error) {
		t.Fatal("submission must inherit the queue's original bound, not its own")
		return nil, nil
	})
	require.Error(t, err)
	close(release)
}
