package krunloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnboundedQueueFifo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewUnboundedQueue[*counterResource](ctx)

	for i := 0; i < 1000; i++ {
		q.Enqueue(&appendEvent{msg: string(rune('a' + i%26))})
	}
	for i := 0; i < 1000; i++ {
		select {
		case ev := <-q.GetOutputChan():
			assert.Equal(t, string(rune('a'+i%26)), ev.(*appendEvent).msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out at %d", i)
		}
	}
	assert.Eventually(t, func() bool { return q.GetSize() == 0 }, time.Second, time.Millisecond)
}

func TestUnboundedQueueClose(t *testing.T) {
	q := NewUnboundedQueue[*counterResource](context.Background())
	q.Close()
	q.Close()
	select {
	case _, ok := <-q.GetOutputChan():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("output channel not closed")
	}
	q.Enqueue(&appendEvent{})
}

func TestUnboundedQueueCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewUnboundedQueue[*counterResource](ctx)
	cancel()
	select {
	case _, ok := <-q.GetOutputChan():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("output channel not closed")
	}
}
