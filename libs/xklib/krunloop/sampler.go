package krunloop

import (
	"context"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
)

var (
	RunLoopSamplerMetric = kmetrics.CreateKmetric(context.Background(), "runloop_sample_ct", "runloop busy sampling at 50Hz", []string{"name", "event"}).CountOnly()
)

// RunloopSampler records which event the loop is busy with, 50 times per second, until ctx is done.
type RunloopSampler struct {
	name string
	fn   SampleFunc
}

type SampleFunc func() string

func NewRunloopSampler(ctx context.Context, fn SampleFunc, name string) *RunloopSampler {
	sampler := &RunloopSampler{
		name: name,
		fn:   fn,
	}
	go sampler.Run(ctx)
	return sampler
}

func (rs *RunloopSampler) Run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	current := rs.fn()
	if current == "" {
		current = "none"
	}
	RunLoopSamplerMetric.GetTimeSequence(ctx, rs.name, current).Add(1)
	kcommon.ScheduleRun(20, func() {
		rs.Run(ctx)
	})
}
