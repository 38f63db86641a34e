package core

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/profile"
)

// StartingPoolItem is the admission estimate of a worker that is still initializing.
type StartingPoolItem struct {
	WorkerName          data.WorkerName
	Credential          string
	EstimateRequestLeft int32
	MaxActivateRequests int32
}

// Broker is the fleet ledger of one (function, inspector) pair.
// Sync/Register/PrerequestStartingPool/RemoveItemFromStartingPool hold the write lock for their whole body,
// so readers see either the fleet before or after a sync, never a mix.
type Broker struct {
	mu          sync.RWMutex
	name        string
	inspector   bool
	disposable  bool
	profiles    profile.Provider
	cfgProvider config.ConfigProvider

	profile        *profile.FunctionProfile // nil when the function is unknown
	workers        map[data.WorkerName]*Worker
	startingPool   []*StartingPoolItem // registration order, every item is also in workers
	redundantTimes int32
}

func NewBroker(profiles profile.Provider, cfgProvider config.ConfigProvider, functionName string, inspector bool, disposable bool) *Broker {
	return &Broker{
		name:        functionName,
		inspector:   inspector,
		disposable:  disposable,
		profiles:    profiles,
		cfgProvider: cfgProvider,
		profile:     profiles.Get(functionName),
		workers:     make(map[data.WorkerName]*Worker),
	}
}

func (b *Broker) Key() data.BrokerKey {
	return data.MakeBrokerKey(b.name, b.inspector)
}

func (b *Broker) Name() string {
	return b.name
}

func (b *Broker) Inspector() bool {
	return b.inspector
}

func (b *Broker) Disposable() bool {
	return b.disposable
}

// Profile is the snapshot cached by the last sync (or construction).
func (b *Broker) Profile() *profile.FunctionProfile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.profile
}

// ReservationCount: inspector brokers always want 1, disposable brokers 0, others what the profile says.
func (b *Broker) ReservationCount() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reservationCountLocked()
}

func (b *Broker) reservationCountLocked() int32 {
	switch {
	case b.inspector:
		return 1
	case b.disposable || b.profile == nil:
		return 0
	default:
		return b.profile.Worker.ReservationCount
	}
}

func (b *Broker) InitializationTimeoutMs() int64 {
	return b.initializationTimeoutMs(b.Profile())
}

func (b *Broker) initializationTimeoutMs(fp *profile.FunctionProfile) int64 {
	if fp != nil && fp.Worker.InitializationTimeoutMs > 0 {
		return fp.Worker.InitializationTimeoutMs
	}
	return b.cfgProvider.GetConfig().Worker.DefaultInitializerTimeoutMs
}

func (b *Broker) MemoryLimit() int64 {
	fp := b.Profile()
	if fp == nil {
		return 0
	}
	return fp.ResourceLimit.Memory
}

func (b *Broker) RedundantTimes() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.redundantTimes
}

func (b *Broker) SetRedundantTimes(times int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redundantTimes = times
}

func (b *Broker) IncRedundantTimes() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redundantTimes++
	return b.redundantTimes
}

// Register adds a worker and its starting pool entry. Registering the same name again replaces both.
func (b *Broker) Register(ctx context.Context, metadata WorkerMetadata) (*Worker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.profile == nil {
		return nil, kerror.Create("FunctionProfileNotFound", "no profile loaded for function").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("function", b.name).
			With("inspector", b.inspector)
	}
	if metadata.ProcessName == "" {
		return nil, kerror.Create("InvalidWorkerMetadata", "process name is required").
			WithErrorCode(kerror.EC_INVALID_PARAMETER).
			With("function", b.name)
	}

	worker := NewWorker(metadata, b.initializationTimeoutMs(b.profile))
	if _, exists := b.workers[worker.Name()]; exists {
		klogging.Warning(ctx).With("broker", b.Key()).With("worker", worker.Name()).Log("WorkerReRegistered", "replacing previous registration")
		b.removeFromStartingPoolLocked(worker.Name())
	}
	b.workers[worker.Name()] = worker
	maxActivate := b.profile.Worker.MaxActivateRequests
	b.startingPool = append(b.startingPool, &StartingPoolItem{
		WorkerName:          worker.Name(),
		Credential:          metadata.Credential,
		EstimateRequestLeft: maxActivate,
		MaxActivateRequests: maxActivate,
	})
	klogging.Info(ctx).With("broker", b.Key()).With("worker", worker.Name()).With("maxActivateRequests", maxActivate).Log("WorkerRegistered", "")
	return worker, nil
}

func (b *Broker) RemoveItemFromStartingPool(name data.WorkerName) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeFromStartingPoolLocked(name)
}

func (b *Broker) removeFromStartingPoolLocked(name data.WorkerName) bool {
	for i, item := range b.startingPool {
		if item.WorkerName == name {
			b.startingPool = append(b.startingPool[:i], b.startingPool[i+1:]...)
			return true
		}
	}
	return false
}

// PrerequestStartingPool takes one admission slot from the oldest starting worker that still has one.
// Returns false when no starting worker has capacity left.
func (b *Broker) PrerequestStartingPool() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, item := range b.startingPool {
		if item.EstimateRequestLeft > 0 {
			item.EstimateRequestLeft--
			return true
		}
	}
	return false
}

// BrokerSyncStats counts what one Sync did with its reports.
type BrokerSyncStats struct {
	Applied       int
	NoName        int
	UnknownWorker int
	Missed        int
	Evicted       int
}

// Sync reconciles the worker set against one cycle of reports. Reports never create workers.
func (b *Broker) Sync(ctx context.Context, reports []*bmgjson.WorkerStatsJson) BrokerSyncStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BrokerSyncStats{}
	b.profile = b.profiles.Get(b.name)
	cfg := b.cfgProvider.GetConfig().Worker

	oldMap := make(map[data.WorkerName]*Worker, len(b.workers))
	for name, worker := range b.workers {
		oldMap[name] = worker
	}
	newMap := make(map[data.WorkerName]*Worker, len(b.workers))

	for _, report := range reports {
		if report == nil || report.Name == "" {
			stats.NoName++
			klogging.Debug(ctx).With("broker", b.Key()).Log("SyncReportNoName", "skipped")
			continue
		}
		name := data.WorkerName(report.Name)
		worker, ok := oldMap[name]
		if !ok {
			// unknown, or a second report for an already consumed worker
			stats.UnknownWorker++
			klogging.Debug(ctx).With("broker", b.Key()).With("worker", name).Log("SyncReportUnknownWorker", "skipped")
			continue
		}
		worker.Sync(ctx, report, &cfg)
		newMap[name] = worker
		delete(oldMap, name)
		stats.Applied++
	}

	for name, worker := range oldMap {
		worker.Sync(ctx, nil, &cfg)
		stats.Missed++
		if worker.ShouldEvict(&cfg) {
			stats.Evicted++
			klogging.Info(ctx).With("broker", b.Key()).With("worker", name).With("status", worker.Status().String()).With("missed", worker.MissedSyncCount()).Log("WorkerEvicted", "")
			continue
		}
		newMap[name] = worker
	}

	kept := make([]*StartingPoolItem, 0, len(b.startingPool))
	for _, item := range b.startingPool {
		worker, ok := newMap[item.WorkerName]
		if !ok {
			klogging.Debug(ctx).With("broker", b.Key()).With("worker", item.WorkerName).Log("StartingPoolEvict", "worker gone")
			continue
		}
		if !worker.IsInitializating() {
			klogging.Debug(ctx).With("broker", b.Key()).With("worker", item.WorkerName).With("status", worker.Status().String()).Log("StartingPoolEvict", "worker no longer initializing")
			continue
		}
		if wd, fresh := worker.FreshData(); fresh {
			item.MaxActivateRequests = wd.MaxActivateRequests
			item.EstimateRequestLeft = wd.MaxActivateRequests - wd.ActiveRequestCount
		}
		kept = append(kept, item)
	}
	b.startingPool = kept

	b.workers = newMap
	return stats
}

func (b *Broker) GetWorker(name data.WorkerName) *Worker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.workers[name]
}

// Size is the number of tracked workers in any status.
func (b *Broker) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.workers)
}

// Workers sorted by name.
func (b *Broker) Workers() []*Worker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedWorkersLocked()
}

func (b *Broker) sortedWorkersLocked() []*Worker {
	list := make([]*Worker, 0, len(b.workers))
	for _, worker := range b.workers {
		list = append(list, worker)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// StartingPool returns copies of the entries in registration order.
func (b *Broker) StartingPool() []StartingPoolItem {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := make([]StartingPoolItem, 0, len(b.startingPool))
	for _, item := range b.startingPool {
		list = append(list, *item)
	}
	return list
}

// BrokerMetrics is computed from one consistent view of the fleet. Nothing is cached.
type BrokerMetrics struct {
	WorkerCount              int32
	ActiveRequestCount       int64
	TotalMaxActivateRequests int64
	VirtualMemory            int64
	StartingPoolSize         int32
	ReservationCount         int32
}

// WaterLevel is NaN or +Inf when there is no running capacity. Callers must treat a non-finite value as no signal.
func (m BrokerMetrics) WaterLevel() float64 {
	return float64(m.ActiveRequestCount) / float64(m.TotalMaxActivateRequests)
}

func IsFiniteWaterLevel(level float64) bool {
	return !math.IsNaN(level) && !math.IsInf(level, 0)
}

func (b *Broker) Metrics() BrokerMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := BrokerMetrics{
		StartingPoolSize: int32(len(b.startingPool)),
	}
	for _, worker := range b.workers {
		if !worker.IsRunning() {
			continue
		}
		m.WorkerCount++
		if wd, ok := worker.Data(); ok {
			m.TotalMaxActivateRequests += int64(wd.MaxActivateRequests)
			m.ActiveRequestCount += int64(wd.ActiveRequestCount)
		}
	}
	memory := int64(0)
	if b.profile != nil {
		memory = b.profile.ResourceLimit.Memory
	}
	m.VirtualMemory = int64(m.WorkerCount) * memory
	m.ReservationCount = b.reservationCountLocked()
	return m
}

func (b *Broker) WorkerCount() int32 {
	return b.Metrics().WorkerCount
}

func (b *Broker) ActiveRequestCount() int64 {
	return b.Metrics().ActiveRequestCount
}

func (b *Broker) TotalMaxActivateRequests() int64 {
	return b.Metrics().TotalMaxActivateRequests
}

func (b *Broker) VirtualMemory() int64 {
	return b.Metrics().VirtualMemory
}

func (b *Broker) WaterLevel() float64 {
	return b.Metrics().WaterLevel()
}

func (b *Broker) ToJson() *bmgjson.BrokerSnapshotJson {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj := &bmgjson.BrokerSnapshotJson{
		Name:           b.name,
		Inspector:      b.inspector,
		Disposable:     b.disposable,
		RedundantTimes: b.redundantTimes,
		StartingPool:   make([]*bmgjson.StartingPoolItemJson, 0, len(b.startingPool)),
		Workers:        make([]*bmgjson.WorkerSnapshotJson, 0, len(b.workers)),
	}
	if b.profile != nil {
		obj.Profile = b.profile.ToJson()
	}
	for _, item := range b.startingPool {
		obj.StartingPool = append(obj.StartingPool, &bmgjson.StartingPoolItemJson{
			WorkerName:          string(item.WorkerName),
			Credential:          item.Credential,
			EstimateRequestLeft: item.EstimateRequestLeft,
			MaxActivateRequests: item.MaxActivateRequests,
		})
	}
	for _, worker := range b.sortedWorkersLocked() {
		obj.Workers = append(obj.Workers, worker.ToJson())
	}
	return obj
}
