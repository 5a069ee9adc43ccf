package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queue collects scheduled callbacks so tests control delivery.
type queue struct {
	fns []func()
}

func (q *queue) schedule(fn func()) { q.fns = append(q.fns, fn) }

func (q *queue) drain() {
	for len(q.fns) > 0 {
		fn := q.fns[0]
		q.fns = q.fns[1:]
		fn()
	}
}

func recordHandlers(log *[]string) Handlers {
	return Handlers{
		OnSuccess:  func() { *log = append(*log, "success") },
		OnError:    func(err error) { *log = append(*log, "error:"+err.Error()) },
		OnComplete: func() { *log = append(*log, "complete") },
	}
}

func TestSession_ResolvesOnce(t *testing.T) {
	s := New(nil)
	assert.False(t, s.Resolved())
	assert.False(t, s.Succeeded())
	assert.NoError(t, s.Err())

	assert.True(t, s.Resolve(nil))
	assert.False(t, s.Resolve(errors.New("late")), "second resolution is ignored")

	assert.True(t, s.Resolved())
	assert.True(t, s.Succeeded())
	assert.NoError(t, s.Err())
}

func TestSession_FailureIsExclusive(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")

	s.Resolve(boom)
	s.Resolve(nil)

	assert.True(t, s.Resolved())
	assert.False(t, s.Succeeded())
	assert.Equal(t, boom, s.Err())
}

func TestSession_AwaitBeforeResolution(t *testing.T) {
	q := &queue{}
	s := New(q.schedule)

	var a, b []string
	s.Await(recordHandlers(&a))
	s.Await(recordHandlers(&b))
	q.drain()
	require.Empty(t, a, "nothing fires before resolution")

	s.Resolve(nil)
	assert.Empty(t, a, "handlers are scheduled, not run inline")
	q.drain()

	assert.Equal(t, []string{"success", "complete"}, a)
	assert.Equal(t, []string{"success", "complete"}, b)
}

func TestSession_AwaitAfterResolution(t *testing.T) {
	q := &queue{}
	s := New(q.schedule)
	s.Resolve(errors.New("denied"))

	var log []string
	s.Await(recordHandlers(&log))
	assert.Empty(t, log)
	q.drain()

	assert.Equal(t, []string{"error:denied", "complete"}, log)
}

func TestSession_NilHandlers(t *testing.T) {
	s := New(nil)
	s.Await(Handlers{})
	assert.NotPanics(t, func() { s.Resolve(errors.New("x")) })
}

func TestSession_Wait(t *testing.T) {
	s := New(nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Wait(context.Background())
		}(i)
	}

	boom := errors.New("boom")
	s.Resolve(boom)
	wg.Wait()

	for _, err := range errs {
		assert.Equal(t, boom, err)
	}
}

func TestSession_WaitContextCancelled(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	assert.False(t, s.Resolved())
}

func TestSession_Done(t *testing.T) {
	s := New(nil)

	select {
	case <-s.Done():
		t.Fatal("done before resolution")
	default:
	}

	s.Resolve(nil)
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed after resolution")
	}
}
