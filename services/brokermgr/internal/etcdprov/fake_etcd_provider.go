package etcdprov

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// FakeEtcdProvider is an in-memory EtcdProvider for tests.
type FakeEtcdProvider struct {
	mu              sync.RWMutex
	data            map[string]*fakeKV
	currentRevision EtcdRevision
	watchers        map[string][]chan EtcdKvItem // key is path prefix
}

type fakeKV struct {
	Value       string
	ModRevision EtcdRevision
}

func NewFakeEtcdProvider() *FakeEtcdProvider {
	return &FakeEtcdProvider{
		data:            make(map[string]*fakeKV),
		currentRevision: 1,
		watchers:        make(map[string][]chan EtcdKvItem),
	}
}

func (f *FakeEtcdProvider) Get(ctx context.Context, key string) EtcdKvItem {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if kv, exists := f.data[key]; exists {
		return EtcdKvItem{Key: key, Value: kv.Value, ModRevision: kv.ModRevision}
	}
	return EtcdKvItem{Key: key}
}

func (f *FakeEtcdProvider) Set(ctx context.Context, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentRevision++
	f.data[key] = &fakeKV{Value: value, ModRevision: f.currentRevision}
	f.notifyWatchers(EtcdKvItem{Key: key, Value: value, ModRevision: f.currentRevision})
}

func (f *FakeEtcdProvider) Delete(ctx context.Context, key string, strictMode bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.data[key]; !exists {
		if strictMode {
			panic(newKeyNotFoundError(key))
		}
		return
	}
	f.currentRevision++
	delete(f.data, key)
	f.notifyWatchers(EtcdKvItem{Key: key, ModRevision: f.currentRevision})
}

func (f *FakeEtcdProvider) List(ctx context.Context, startKey string, maxCount int) []EtcdKvItem {
	f.mu.RLock()
	defer f.mu.RUnlock()
	items := f.collect(startKey)
	if maxCount > 0 && len(items) > maxCount {
		items = items[:maxCount]
	}
	return items
}

func (f *FakeEtcdProvider) LoadAllByPrefix(ctx context.Context, pathPrefix string) ([]EtcdKvItem, EtcdRevision) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.collect(pathPrefix), f.currentRevision
}

// WatchByPrefix only delivers changes made after the call. Since LoadAllByPrefix returns the latest revision, that is all callers need.
func (f *FakeEtcdProvider) WatchByPrefix(ctx context.Context, pathPrefix string, revision EtcdRevision) chan EtcdKvItem {
	ch := make(chan EtcdKvItem, 100)
	f.mu.Lock()
	f.watchers[pathPrefix] = append(f.watchers[pathPrefix], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.removeWatcher(pathPrefix, ch)
		close(ch)
	}()
	return ch
}

// collect: caller holds the lock.
func (f *FakeEtcdProvider) collect(prefix string) []EtcdKvItem {
	var items []EtcdKvItem
	for k, v := range f.data {
		if strings.HasPrefix(k, prefix) {
			items = append(items, EtcdKvItem{Key: k, Value: v.Value, ModRevision: v.ModRevision})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key < items[j].Key
	})
	return items
}

// notifyWatchers: caller holds the write lock. A full channel drops the event.
func (f *FakeEtcdProvider) notifyWatchers(item EtcdKvItem) {
	for prefix, channels := range f.watchers {
		if !strings.HasPrefix(item.Key, prefix) {
			continue
		}
		for _, ch := range channels {
			select {
			case ch <- item:
			default:
			}
		}
	}
}

func (f *FakeEtcdProvider) removeWatcher(prefix string, ch chan EtcdKvItem) {
	watchers := f.watchers[prefix]
	for i, w := range watchers {
		if w == ch {
			watchers = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
	if len(watchers) == 0 {
		delete(f.watchers, prefix)
	} else {
		f.watchers[prefix] = watchers
	}
}
