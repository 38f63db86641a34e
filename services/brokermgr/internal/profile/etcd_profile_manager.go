package profile

import (
	"context"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/etcdprov"
)

// EtcdProfileManager mirrors /faas/profile/<name> into memory and follows changes until ctx is done.
type EtcdProfileManager struct {
	StaticProfileProvider
	prefix string
	pm     *config.PathManager
}

func NewEtcdProfileManager(ctx context.Context) *EtcdProfileManager {
	mgr := &EtcdProfileManager{
		StaticProfileProvider: StaticProfileProvider{profiles: make(map[string]*FunctionProfile)},
		pm:                    config.GetCurrentPathManager(),
	}
	mgr.prefix = mgr.pm.GetProfilePathPrefix()
	etcd := etcdprov.GetCurrentEtcdProvider(ctx)
	items, revision := etcd.LoadAllByPrefix(ctx, mgr.prefix)
	for _, item := range items {
		mgr.apply(ctx, item)
	}
	klogging.Info(ctx).With("count", len(items)).With("revision", revision).Log("ProfilesLoaded", "")

	ch := etcd.WatchByPrefix(ctx, mgr.prefix, revision+1)
	go mgr.run(ctx, ch)
	return mgr
}

func (mgr *EtcdProfileManager) run(ctx context.Context, ch chan etcdprov.EtcdKvItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-ch:
			if !ok {
				klogging.Info(ctx).Log("ProfileWatcherExit", "")
				return
			}
			mgr.apply(ctx, item)
		}
	}
}

func (mgr *EtcdProfileManager) apply(ctx context.Context, item etcdprov.EtcdKvItem) {
	name, ok := mgr.pm.ParseProfilePath(item.Key)
	if !ok {
		klogging.Warning(ctx).With("key", item.Key).Log("ProfileKeyIgnored", "not a profile path")
		return
	}
	if item.Value == "" {
		// delete event
		mgr.Delete(name)
		klogging.Info(ctx).With("function", name).Log("ProfileRemoved", "")
		return
	}
	var fp *FunctionProfile
	ke := kcommon.TryCatchRun(ctx, func() {
		fp = FunctionProfileJsonToProfile(bmgjson.FunctionProfileJsonFromJson(item.Value))
	})
	if ke != nil {
		klogging.Warning(ctx).WithError(ke).With("key", item.Key).Log("ProfileParseFailed", "ignored")
		return
	}
	if fp.Name != name {
		klogging.Warning(ctx).With("key", item.Key).With("name", fp.Name).Log("ProfileNameMismatch", "ignored")
		return
	}
	mgr.Set(fp)
	klogging.Debug(ctx).With("function", name).With("revision", item.ModRevision).Log("ProfileUpdated", "")
}
