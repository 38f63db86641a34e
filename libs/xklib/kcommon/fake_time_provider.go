package kcommon

import (
	"container/heap"
	"context"
	"sync"
)

// FakeTimeProvider implements TimeProvider with a virtual clock.
// Scheduled tasks only run from VirtualTimeForward(), on the caller's goroutine.
type FakeTimeProvider struct {
	mu        sync.Mutex
	wallTime  int64
	monoTime  int64
	taskQueue *TaskQueue
	seq       int64
}

func NewFakeTimeProvider(currentTime int64) *FakeTimeProvider {
	return &FakeTimeProvider{
		wallTime:  currentTime,
		monoTime:  currentTime,
		taskQueue: NewTaskQueue(),
	}
}

func (provider *FakeTimeProvider) GetWallTimeMs() int64 {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.wallTime
}

func (provider *FakeTimeProvider) GetMonoTimeMs() int64 {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.monoTime
}

func (provider *FakeTimeProvider) SleepMs(ctx context.Context, ms int) {
	provider.VirtualTimeForward(ctx, ms)
}

func (provider *FakeTimeProvider) ScheduleRun(delayMs int, fn func()) {
	RunWithLock(&provider.mu, func() {
		provider.seq++
		heap.Push(provider.taskQueue, &FakeTimerTask{
			TaskFunc:       fn,
			ScheduledForMs: provider.monoTime + int64(delayMs),
			seq:            provider.seq,
		})
	})
}

// PendingTaskCount is the number of scheduled tasks not run yet.
func (provider *FakeTimeProvider) PendingTaskCount() int {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	return provider.taskQueue.Len()
}

// VirtualTimeForward advances the clock by forwardMs, running due tasks in schedule order.
// Tasks scheduled by a running task are honored if they fall inside the window.
func (provider *FakeTimeProvider) VirtualTimeForward(ctx context.Context, forwardMs int) {
	deadline := provider.GetMonoTimeMs() + int64(forwardMs)
	for ctx.Err() == nil {
		var task *FakeTimerTask
		RunWithLock(&provider.mu, func() {
			top := provider.taskQueue.Peek()
			if top == nil || top.ScheduledForMs > deadline {
				return
			}
			heap.Pop(provider.taskQueue)
			provider.advanceTo(top.ScheduledForMs)
			task = top
		})
		if task == nil {
			break
		}
		task.TaskFunc()
	}
	RunWithLock(&provider.mu, func() {
		provider.advanceTo(deadline)
	})
}

func (provider *FakeTimeProvider) advanceTo(monoMs int64) {
	if monoMs <= provider.monoTime {
		return
	}
	provider.wallTime += monoMs - provider.monoTime
	provider.monoTime = monoMs
}
