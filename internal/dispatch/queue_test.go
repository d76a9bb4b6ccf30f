package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := New(context.Background(), Options{})
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		assert.Equal(t, true, q.Go("task", func(ctx context.Context) error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	assert.Equal(t, nil, q.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, len(got))
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueReportsFailures(t *testing.T) {
	boom := errors.New("boom")
	var failed []string
	q := New(context.Background(), Options{OnError: func(name string, err error) {
		failed = append(failed, name)
		assert.Equal(t, boom, err)
	}})
	defer q.Close()

	q.Go("bad", func(ctx context.Context) error { return boom })
	q.Go("panics", func(ctx context.Context) error { panic("oops") })
	q.Go("good", func(ctx context.Context) error { return nil })
	assert.Equal(t, nil, q.Wait(context.Background()))
	assert.Equal(t, []string{"bad"}, failed)
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := New(context.Background(), Options{Capacity: 1})
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	q.Go("block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	assert.Equal(t, true, q.Go("queued", func(ctx context.Context) error { return nil }))
	assert.Equal(t, false, q.Go("dropped", func(ctx context.Context) error { return nil }))
	close(release)
}

func TestQueueCloseDrains(t *testing.T) {
	q := New(context.Background(), Options{})
	ran := 0
	for i := 0; i < 10; i++ {
		q.Go("task", func(ctx context.Context) error {
			ran++
			return nil
		})
	}
	q.Close()
	assert.Equal(t, 10, ran)
	assert.Equal(t, false, q.Go("late", func(ctx context.Context) error { return nil }))
	assert.Equal(t, ErrClosed, q.Wait(context.Background()))
	q.Close()
}
