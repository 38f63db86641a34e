package kcommon

import "container/heap"

type FakeTimerTask struct {
	ScheduledForMs int64
	TaskFunc       func()
	seq            int64 // tie breaker: same deadline runs in schedule order
}

// TaskQueue is a min-heap of FakeTimerTask ordered by deadline.
type TaskQueue struct {
	queue []*FakeTimerTask
}

func NewTaskQueue() *TaskQueue {
	tq := &TaskQueue{}
	heap.Init(tq)
	return tq
}

func (tq *TaskQueue) Len() int {
	return len(tq.queue)
}

func (tq *TaskQueue) Less(i, j int) bool {
	if tq.queue[i].ScheduledForMs == tq.queue[j].ScheduledForMs {
		return tq.queue[i].seq < tq.queue[j].seq
	}
	return tq.queue[i].ScheduledForMs < tq.queue[j].ScheduledForMs
}

func (tq *TaskQueue) Swap(i, j int) {
	tq.queue[i], tq.queue[j] = tq.queue[j], tq.queue[i]
}

func (tq *TaskQueue) Push(x interface{}) {
	tq.queue = append(tq.queue, x.(*FakeTimerTask))
}

func (tq *TaskQueue) Pop() interface{} {
	x := tq.queue[len(tq.queue)-1]
	tq.queue = tq.queue[:len(tq.queue)-1]
	return x
}

// Peek returns the next task to run, nil if empty.
func (tq *TaskQueue) Peek() *FakeTimerTask {
	if len(tq.queue) == 0 {
		return nil
	}
	return tq.queue[0]
}
