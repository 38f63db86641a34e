package core

import (
	"context"
	"sort"
	"sync"

	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/profile"
)

// Directory owns every Broker. It is the critical resource of the brokermgr run loop:
// Sync, Register and broker creation only run as run loop events.
// Lookups (GetBroker, Brokers) may come from any goroutine.
type Directory struct {
	mu          sync.RWMutex // protects brokers
	profiles    profile.Provider
	cfgProvider config.ConfigProvider
	brokers     map[data.BrokerKey]*Broker
}

func NewDirectory(profiles profile.Provider, cfgProvider config.ConfigProvider) *Directory {
	return &Directory{
		profiles:    profiles,
		cfgProvider: cfgProvider,
		brokers:     make(map[data.BrokerKey]*Broker),
	}
}

// IsResource implements krunloop.CriticalResource
func (dir *Directory) IsResource() {}

func (dir *Directory) ConfigProvider() config.ConfigProvider {
	return dir.cfgProvider
}

func (dir *Directory) GetBroker(functionName string, inspector bool) *Broker {
	dir.mu.RLock()
	defer dir.mu.RUnlock()
	return dir.brokers[data.MakeBrokerKey(functionName, inspector)]
}

// GetOrCreateBroker: disposable only matters when the broker is created.
func (dir *Directory) GetOrCreateBroker(ctx context.Context, functionName string, inspector bool, disposable bool) (broker *Broker, created bool) {
	key := data.MakeBrokerKey(functionName, inspector)
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if broker, ok := dir.brokers[key]; ok {
		return broker, false
	}
	broker = NewBroker(dir.profiles, dir.cfgProvider, functionName, inspector, disposable)
	dir.brokers[key] = broker
	klogging.Info(ctx).With("broker", key).With("disposable", disposable).Log("BrokerCreated", "")
	return broker, true
}

func (dir *Directory) removeBroker(ctx context.Context, key data.BrokerKey, reason string) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	delete(dir.brokers, key)
	klogging.Info(ctx).With("broker", key).With("reason", reason).Log("BrokerRemoved", "")
}

// Brokers sorted by key.
func (dir *Directory) Brokers() []*Broker {
	dir.mu.RLock()
	list := make([]*Broker, 0, len(dir.brokers))
	for _, broker := range dir.brokers {
		list = append(list, broker)
	}
	dir.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })
	return list
}

// Register creates the broker on demand. A broker created here is removed again if the registration fails.
func (dir *Directory) Register(ctx context.Context, functionName string, inspector bool, disposable bool, metadata WorkerMetadata) (*Worker, error) {
	broker, created := dir.GetOrCreateBroker(ctx, functionName, inspector, disposable)
	worker, err := broker.Register(ctx, metadata)
	if err != nil && created {
		dir.removeBroker(ctx, broker.Key(), "register_failed")
	}
	return worker, err
}

type DirectorySyncStats struct {
	BrokerSyncStats
	Malformed      int
	UnknownBroker  int
	DroppedBrokers int
}

// Sync routes every report to its broker and syncs every broker, including those without reports.
func (dir *Directory) Sync(ctx context.Context, reports []*bmgjson.WorkerStatsJson) DirectorySyncStats {
	stats := DirectorySyncStats{}
	grouped := make(map[data.BrokerKey][]*bmgjson.WorkerStatsJson)
	for _, report := range reports {
		if report == nil || report.FunctionName == "" {
			stats.Malformed++
			continue
		}
		key := data.MakeBrokerKey(report.FunctionName, report.Inspector)
		grouped[key] = append(grouped[key], report)
	}

	brokers := dir.Brokers()
	known := make(map[data.BrokerKey]bool, len(brokers))
	for _, broker := range brokers {
		known[broker.Key()] = true
	}
	for key, list := range grouped {
		if !known[key] {
			stats.UnknownBroker += len(list)
			klogging.Debug(ctx).With("broker", key).With("count", len(list)).Log("SyncReportUnknownBroker", "skipped")
		}
	}

	dropIdle := dir.cfgProvider.GetConfig().Broker.DropIdleDisposable
	for _, broker := range brokers {
		bs := broker.Sync(ctx, grouped[broker.Key()])
		stats.Applied += bs.Applied
		stats.NoName += bs.NoName
		stats.UnknownWorker += bs.UnknownWorker
		stats.Missed += bs.Missed
		stats.Evicted += bs.Evicted
		if bs.Evicted > 0 {
			workerEvictedMetrics.GetTimeSequence(ctx, broker.Name()).Add(int64(bs.Evicted))
		}
		if dropIdle && broker.Disposable() && broker.Size() == 0 {
			dir.removeBroker(ctx, broker.Key(), "idle_disposable")
			stats.DroppedBrokers++
		}
	}

	syncReportSkippedMetrics.GetTimeSequence(ctx, "no_name").Add(int64(stats.NoName))
	syncReportSkippedMetrics.GetTimeSequence(ctx, "unknown_worker").Add(int64(stats.UnknownWorker))
	syncReportSkippedMetrics.GetTimeSequence(ctx, "unknown_broker").Add(int64(stats.UnknownBroker))
	syncReportSkippedMetrics.GetTimeSequence(ctx, "malformed").Add(int64(stats.Malformed))
	return stats
}

func (dir *Directory) ToJson() []*bmgjson.BrokerSnapshotJson {
	brokers := dir.Brokers()
	list := make([]*bmgjson.BrokerSnapshotJson, 0, len(brokers))
	for _, broker := range brokers {
		list = append(list, broker.ToJson())
	}
	return list
}
