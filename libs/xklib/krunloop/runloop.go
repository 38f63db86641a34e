package krunloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
)

var (
	RunLoopElapsedMsMetric = kmetrics.CreateKmetric(context.Background(), "runloop_elapsed_ms", "time spent processing one runloop event", []string{"name", "event"})
)

// CriticalResource is the state owned by a RunLoop. Only events processed by that loop touch it.
type CriticalResource interface {
	IsResource()
}

// IEvent is a unit of work processed against the loop's resource.
type IEvent[T CriticalResource] interface {
	GetName() string
	Process(ctx context.Context, resource T)
}

type EventPoster[T CriticalResource] interface {
	PostEvent(event IEvent[T])
}

// RunLoop processes events one at a time, in post order, on a single goroutine.
// RunLoop implements EventPoster.
type RunLoop[T CriticalResource] struct {
	name             string // for logging/metrics only
	resource         T
	queue            *UnboundedQueue[T]
	currentEventName atomic.Value
	sampler          *RunloopSampler
	mu               sync.Mutex // protects cancel
	cancel           context.CancelFunc
	exited           chan struct{}
}

func NewRunLoop[T CriticalResource](ctx context.Context, resource T, name string) *RunLoop[T] {
	rl := &RunLoop[T]{
		name:     name,
		resource: resource,
		queue:    NewUnboundedQueue[T](ctx),
		exited:   make(chan struct{}),
	}
	rl.sampler = NewRunloopSampler(ctx, rl.CurrentEventName, name)
	return rl
}

// PostEvent never blocks. Events posted after the loop exits are dropped.
func (rl *RunLoop[T]) PostEvent(event IEvent[T]) {
	rl.queue.Enqueue(event)
}

// CurrentEventName returns the name of the event being processed, or "" when idle.
func (rl *RunLoop[T]) CurrentEventName() string {
	val := rl.currentEventName.Load()
	if val == nil {
		return ""
	}
	return val.(string)
}

func (rl *RunLoop[T]) QueueSize() int64 {
	return rl.queue.GetSize()
}

// Run blocks until ctx is cancelled or StopAndWaitForExit is called.
func (rl *RunLoop[T]) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	rl.mu.Lock()
	rl.cancel = cancel
	rl.mu.Unlock()

	defer func() {
		rl.queue.Close()
		close(rl.exited)
	}()

	for {
		select {
		case <-ctx.Done():
			klogging.Info(ctx).With("name", rl.name).Log("RunLoopCtxCanceled", "run loop stopped")
			return
		case event, ok := <-rl.queue.GetOutputChan():
			if !ok {
				klogging.Info(ctx).With("name", rl.name).Log("EventQueueClosed", "event queue closed")
				return
			}
			rl.processOne(ctx, event)
		}
	}
}

func (rl *RunLoop[T]) processOne(ctx context.Context, event IEvent[T]) {
	start := kcommon.GetMonoTimeMs()
	eveName := event.GetName()
	rl.currentEventName.Store(eveName)
	defer func() {
		rl.currentEventName.Store("")
		elapsedMs := kcommon.GetMonoTimeMs() - start
		RunLoopElapsedMsMetric.GetTimeSequence(ctx, rl.name, eveName).Add(elapsedMs)
	}()
	ke := kcommon.TryCatchRun(ctx, func() {
		event.Process(ctx, rl.resource)
	})
	if ke != nil {
		klogging.Error(ctx).WithError(ke).With("name", rl.name).With("event", eveName).Log("RunLoopEventFailed", "event panicked, loop continues")
	}
}

func (rl *RunLoop[T]) StopAndWaitForExit() {
	rl.mu.Lock()
	cancel := rl.cancel
	rl.mu.Unlock()
	if cancel == nil {
		// never started
		return
	}
	cancel()

	select {
	case <-rl.exited:
	case <-time.After(1000 * time.Millisecond):
		klogging.Warning(context.Background()).With("name", rl.name).Log("RunLoopStopTimeout", "run loop did not exit in time")
	}
}
