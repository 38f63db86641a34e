package core

import (
	"context"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/krunloop"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/dataplane"
)

// SyncCycleEvent implements krunloop.IEvent[*Directory]. One event is one data plane poll.
// With a poster it schedules the next cycle after Sync.IntervalMs, even if this one failed.
type SyncCycleEvent struct {
	dataPlane dataplane.Provider
	poster    krunloop.EventPoster[*Directory]
}

func NewSyncCycleEvent(dataPlane dataplane.Provider, poster krunloop.EventPoster[*Directory]) *SyncCycleEvent {
	return &SyncCycleEvent{
		dataPlane: dataPlane,
		poster:    poster,
	}
}

func (eve *SyncCycleEvent) GetName() string {
	return "SyncCycleEvent"
}

func (eve *SyncCycleEvent) Process(ctx context.Context, dir *Directory) {
	defer eve.scheduleNext(ctx, dir)

	reports, err := eve.dataPlane.FetchWorkerStats(ctx)
	if err != nil {
		// workers are not degraded for our own fetch failure
		klogging.Warning(ctx).WithError(err).Log("SyncFetchFailed", "cycle skipped")
		syncCycleMetrics.GetTimeSequence(ctx, "fetch_error").Add(1)
		return
	}

	var stats DirectorySyncStats
	ke := kcommon.TryCatchRun(ctx, func() {
		stats = dir.Sync(ctx, reports)
	})
	if ke != nil {
		klogging.Error(ctx).WithError(ke).Log("SyncFailed", "")
		syncCycleMetrics.GetTimeSequence(ctx, "sync_error").Add(1)
		return
	}
	dir.CollectMetrics(ctx)
	syncCycleMetrics.GetTimeSequence(ctx, "ok").Add(1)
	klogging.Verbose(ctx).
		With("reports", len(reports)).
		With("applied", stats.Applied).
		With("missed", stats.Missed).
		With("evicted", stats.Evicted).
		With("unknownBroker", stats.UnknownBroker).
		Log("SyncCycleDone", "")
}

func (eve *SyncCycleEvent) scheduleNext(ctx context.Context, dir *Directory) {
	if eve.poster == nil || ctx.Err() != nil {
		return
	}
	intervalMs := dir.ConfigProvider().GetConfig().Sync.IntervalMs
	kcommon.ScheduleRun(int(intervalMs), func() {
		if ctx.Err() != nil {
			return
		}
		eve.poster.PostEvent(NewSyncCycleEvent(eve.dataPlane, eve.poster))
	})
}
