package config

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/etcdprov"
)

var (
	configUpdateMetrics = kmetrics.CreateKmetric(context.Background(), "control_plane_config_update", "control plane config reloads", []string{"result"}).CountOnly()
)

// ConfigProvider: GetConfig is safe to call from any goroutine. The returned config must not be modified.
type ConfigProvider interface {
	GetConfig() *ControlPlaneConfig
}

// StaticConfigProvider holds a config that only changes through SetConfig.
type StaticConfigProvider struct {
	cfg atomic.Pointer[ControlPlaneConfig]
}

func NewStaticConfigProvider(cfg *ControlPlaneConfig) *StaticConfigProvider {
	provider := &StaticConfigProvider{}
	if cfg == nil {
		cfg = NewDefaultControlPlaneConfig()
	}
	provider.cfg.Store(cfg)
	return provider
}

func (provider *StaticConfigProvider) GetConfig() *ControlPlaneConfig {
	return provider.cfg.Load()
}

func (provider *StaticConfigProvider) SetConfig(cfg *ControlPlaneConfig) {
	provider.cfg.Store(cfg)
}

// LoadConfigFile reads a yaml control plane config. Panics on a missing or broken file.
func LoadConfigFile(path string) *ControlPlaneConfig {
	content, err := os.ReadFile(path)
	if err != nil {
		panic(kerror.Wrap(err, "ConfigFileError", "failed to read config file", false).With("path", path))
	}
	return ControlPlaneConfigJsonToConfig(bmgjson.ControlPlaneConfigJsonFromYaml(content))
}

// EtcdConfigProvider loads the config from etcd and keeps following updates until ctx is done.
// A deleted key reverts to defaults. A broken value is logged and ignored.
type EtcdConfigProvider struct {
	StaticConfigProvider
	path string
}

func NewEtcdConfigProvider(ctx context.Context) *EtcdConfigProvider {
	provider := &EtcdConfigProvider{
		path: GetCurrentPathManager().GetControlPlaneConfigPath(),
	}
	etcd := etcdprov.GetCurrentEtcdProvider(ctx)
	items, revision := etcd.LoadAllByPrefix(ctx, provider.path)
	value := ""
	for _, item := range items {
		if item.Key == provider.path {
			value = item.Value
		}
	}
	provider.cfg.Store(NewDefaultControlPlaneConfig())
	provider.apply(ctx, value, revision)

	ch := etcd.WatchByPrefix(ctx, provider.path, revision+1)
	go provider.run(ctx, ch)
	return provider
}

func (provider *EtcdConfigProvider) run(ctx context.Context, ch chan etcdprov.EtcdKvItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				klogging.Info(ctx).With("path", provider.path).Log("ConfigWatcherExit", "")
				return
			}
			if item.Key != provider.path {
				continue
			}
			provider.apply(ctx, item.Value, item.ModRevision)
		}
	}
}

func (provider *EtcdConfigProvider) apply(ctx context.Context, value string, revision etcdprov.EtcdRevision) {
	var cfg *ControlPlaneConfig
	ke := kcommon.TryCatchRun(ctx, func() {
		cfg = ControlPlaneConfigJsonToConfig(bmgjson.ControlPlaneConfigJsonFromJson(value))
	})
	if ke != nil {
		klogging.Warning(ctx).WithError(ke).With("path", provider.path).With("revision", revision).Log("ConfigParseFailed", "keeping previous config")
		configUpdateMetrics.GetTimeSequence(ctx, "error").Add(1)
		return
	}
	provider.SetConfig(cfg)
	configUpdateMetrics.GetTimeSequence(ctx, "ok").Add(1)
	klogging.Info(ctx).With("path", provider.path).With("revision", revision).With("config", cfg).Log("ConfigUpdated", "")
}
