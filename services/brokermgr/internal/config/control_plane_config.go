package config

import (
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
)

// ControlPlaneConfig is the resolved control plane config: every field has a value.
type ControlPlaneConfig struct {
	Worker WorkerConfig
	Sync   SyncConfig
	Broker BrokerConfig
}

type WorkerConfig struct {
	// DefaultInitializerTimeoutMs applies when a function profile does not set one.
	DefaultInitializerTimeoutMs int64
	// MaxMissedSyncCount: a ready/pending_stop worker unreported for this many cycles becomes unknown.
	MaxMissedSyncCount int32
	// EvictAfterMissedSyncCount: a stopped/unknown worker unreported for this many cycles is dropped.
	EvictAfterMissedSyncCount int32
}

type SyncConfig struct {
	IntervalMs int32
}

type BrokerConfig struct {
	// DropIdleDisposable: drop a disposable broker once it owns no worker.
	DropIdleDisposable bool
}

func NewDefaultControlPlaneConfig() *ControlPlaneConfig {
	return ControlPlaneConfigJsonToConfig(&bmgjson.ControlPlaneConfigJson{})
}

func ControlPlaneConfigJsonToConfig(cfg *bmgjson.ControlPlaneConfigJson) *ControlPlaneConfig {
	return &ControlPlaneConfig{
		Worker: WorkerConfigJsonToConfig(cfg.Worker),
		Sync:   SyncConfigJsonToConfig(cfg.Sync),
		Broker: BrokerConfigJsonToConfig(cfg.Broker),
	}
}

func WorkerConfigJsonToConfig(wc *bmgjson.WorkerConfigJson) WorkerConfig {
	cfg := WorkerConfig{
		DefaultInitializerTimeoutMs: 10 * 1000, // 10s
		MaxMissedSyncCount:          3,
		EvictAfterMissedSyncCount:   10,
	}
	if wc == nil {
		return cfg
	}
	if wc.DefaultInitializerTimeoutMs != nil && *wc.DefaultInitializerTimeoutMs > 0 {
		cfg.DefaultInitializerTimeoutMs = *wc.DefaultInitializerTimeoutMs
	}
	if wc.MaxMissedSyncCount != nil && *wc.MaxMissedSyncCount > 0 {
		cfg.MaxMissedSyncCount = *wc.MaxMissedSyncCount
	}
	if wc.EvictAfterMissedSyncCount != nil && *wc.EvictAfterMissedSyncCount > 0 {
		cfg.EvictAfterMissedSyncCount = *wc.EvictAfterMissedSyncCount
	}
	return cfg
}

func SyncConfigJsonToConfig(sc *bmgjson.SyncConfigJson) SyncConfig {
	cfg := SyncConfig{
		IntervalMs: 1000,
	}
	if sc == nil {
		return cfg
	}
	if sc.IntervalMs != nil && *sc.IntervalMs > 0 {
		cfg.IntervalMs = *sc.IntervalMs
	}
	return cfg
}

func BrokerConfigJsonToConfig(bc *bmgjson.BrokerConfigJson) BrokerConfig {
	cfg := BrokerConfig{
		DropIdleDisposable: true,
	}
	if bc == nil {
		return cfg
	}
	if bc.DropIdleDisposable != nil {
		cfg.DropIdleDisposable = *bc.DropIdleDisposable
	}
	return cfg
}
