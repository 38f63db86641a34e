package core

import (
	"context"
	"sync"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
)

type WorkerMetadata struct {
	ProcessName string
	Credential  string
}

// WorkerData is the self-reported counters of a worker.
type WorkerData struct {
	MaxActivateRequests int32
	ActiveRequestCount  int32
}

// Worker is one tracked process of a function. Worker never fails: missing or odd reports become status transitions.
type Worker struct {
	mu                      sync.RWMutex
	name                    data.WorkerName
	credential              string
	status                  data.WorkerStatus
	registeredAtMs          int64
	initializationTimeoutMs int64
	missedSyncCount         int32
	// status before missed syncs degraded the worker to unknown, 0 otherwise
	degradedFrom            data.WorkerStatus
	data                    *WorkerData // last reported, nil before the first report
	dataFresh               bool        // data came with the latest sync
	diagnostics             []string
}

func NewWorker(metadata WorkerMetadata, initializationTimeoutMs int64) *Worker {
	return &Worker{
		name:                    data.WorkerName(metadata.ProcessName),
		credential:              metadata.Credential,
		status:                  data.WS_Created,
		registeredAtMs:          kcommon.GetWallTimeMs(),
		initializationTimeoutMs: initializationTimeoutMs,
	}
}

func (w *Worker) Name() data.WorkerName {
	return w.name
}

func (w *Worker) Credential() string {
	return w.credential
}

func (w *Worker) Status() data.WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) MissedSyncCount() int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.missedSyncCount
}

// Data returns the last reported counters. ok is false before the first report.
func (w *Worker) Data() (wd WorkerData, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.data == nil {
		return WorkerData{}, false
	}
	return *w.data, true
}

// FreshData is like Data but only returns counters that came with the latest sync.
func (w *Worker) FreshData() (wd WorkerData, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.data == nil || !w.dataFresh {
		return WorkerData{}, false
	}
	return *w.data, true
}

func (w *Worker) Diagnostics() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string{}, w.diagnostics...)
}

// IsInitializating: registered but not yet ready or failed.
func (w *Worker) IsInitializating() bool {
	return w.Status() == data.WS_Created
}

// IsRunning: confirmed alive and accepting requests.
func (w *Worker) IsRunning() bool {
	return w.Status() == data.WS_Ready
}

func (w *Worker) IsTerminal() bool {
	return w.Status().IsTerminal()
}

// ShouldEvict: terminal and not reported for long enough that nobody cares about it anymore.
func (w *Worker) ShouldEvict(cfg *config.WorkerConfig) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status.IsTerminal() && w.missedSyncCount >= cfg.EvictAfterMissedSyncCount
}

// Sync applies one cycle's report, or report == nil when this worker was not in the snapshot.
func (w *Worker) Sync(ctx context.Context, report *bmgjson.WorkerStatsJson, cfg *config.WorkerConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if report == nil {
		w.missedSyncCount++
		w.dataFresh = false
		if (w.status == data.WS_Ready || w.status == data.WS_PendingStop) && w.missedSyncCount >= cfg.MaxMissedSyncCount {
			w.degradedFrom = w.status
			w.transitionLocked(ctx, data.WS_Unknown, "missed_sync")
		}
	} else {
		w.recoverLocked(ctx)
		w.missedSyncCount = 0
		if report.Status != 0 {
			w.transitionLocked(ctx, report.Status, "report")
		}
		if report.Event != 0 {
			w.applyContainerReportLocked(ctx, report.Event)
		}
		w.data = &WorkerData{
			MaxActivateRequests: report.MaxActivateRequests,
			ActiveRequestCount:  report.ActiveRequestCount,
		}
		w.dataFresh = true
		if report.Diagnostics != nil {
			w.diagnostics = append([]string{}, report.Diagnostics...)
		}
	}

	if w.status == data.WS_Created && kcommon.GetWallTimeMs()-w.registeredAtMs > w.initializationTimeoutMs {
		w.transitionLocked(ctx, data.WS_Unknown, "init_timeout")
	}
}

// UpdateByContainerReport applies a direct container runtime event.
func (w *Worker) UpdateByContainerReport(ctx context.Context, event data.ContainerStatusReport) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recoverLocked(ctx)
	w.applyContainerReportLocked(ctx, event)
}

// recoverLocked puts a degraded worker back to the status it had before the reporting gap.
func (w *Worker) recoverLocked(ctx context.Context) {
	if w.degradedFrom == 0 {
		return
	}
	klogging.Info(ctx).With("worker", w.name).With("from", w.status.String()).With("to", w.degradedFrom.String()).With("missed", w.missedSyncCount).Log("WorkerRecovered", "reported again after missed syncs")
	w.status = w.degradedFrom
	w.degradedFrom = 0
}

func (w *Worker) applyContainerReportLocked(ctx context.Context, event data.ContainerStatusReport) {
	target, ok := event.TargetStatus()
	if !ok {
		klogging.Warning(ctx).With("worker", w.name).With("event", int(event)).Log("UnknownContainerReport", "ignored")
		return
	}
	w.transitionLocked(ctx, target, event.String())
}

func (w *Worker) transitionLocked(ctx context.Context, next data.WorkerStatus, reason string) {
	if next == w.status {
		return
	}
	if !w.status.CanTransitionTo(next) {
		klogging.Debug(ctx).With("worker", w.name).With("from", w.status.String()).With("to", next.String()).With("reason", reason).Log("WorkerStatusRegression", "ignored")
		return
	}
	klogging.Info(ctx).With("worker", w.name).With("from", w.status.String()).With("to", next.String()).With("reason", reason).Log("WorkerStatusChange", "")
	w.status = next
}

func (w *Worker) ToJson() *bmgjson.WorkerSnapshotJson {
	w.mu.RLock()
	defer w.mu.RUnlock()
	obj := &bmgjson.WorkerSnapshotJson{
		Name:                    string(w.name),
		Credential:              w.credential,
		Status:                  w.status,
		RegisteredAtMs:          w.registeredAtMs,
		InitializationTimeoutMs: w.initializationTimeoutMs,
		MissedSyncCount:         w.missedSyncCount,
		Degraded:                w.degradedFrom != 0,
		Diagnostics:             append([]string{}, w.diagnostics...),
	}
	if w.data != nil {
		obj.Data = &bmgjson.WorkerDataJson{
			MaxActivateRequests: w.data.MaxActivateRequests,
			ActiveRequestCount:  w.data.ActiveRequestCount,
		}
	}
	return obj
}
