package etcdprov

import (
	"context"
	"sync"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
)

const ErrTypeKeyNotFound = "KeyNotFound"

func newKeyNotFoundError(key string) *kerror.Kerror {
	return kerror.Create(ErrTypeKeyNotFound, "key not found").
		WithErrorCode(kerror.EC_NOT_FOUND).
		With("key", key)
}

type EtcdKvItem struct {
	Key         string
	Value       string // "" for a delete event
	ModRevision EtcdRevision
}

type EtcdRevision int64

// EtcdProvider: every method panics with *kerror.Kerror on failure.
type EtcdProvider interface {
	// Get returns an item with empty Value when the key does not exist.
	Get(ctx context.Context, key string) EtcdKvItem

	// List returns keys with the given prefix sorted by key. maxCount 0 means no limit.
	List(ctx context.Context, startKey string, maxCount int) []EtcdKvItem

	Set(ctx context.Context, key, value string)

	// Delete panics with a KeyNotFound error if strictMode and the key does not exist.
	Delete(ctx context.Context, key string, strictMode bool)

	// LoadAllByPrefix returns a consistent view of the prefix and the revision it was read at.
	LoadAllByPrefix(ctx context.Context, pathPrefix string) ([]EtcdKvItem, EtcdRevision)

	// WatchByPrefix streams changes after revision until ctx is done, then closes the channel.
	WatchByPrefix(ctx context.Context, pathPrefix string, revision EtcdRevision) chan EtcdKvItem
}

var (
	providerMu          sync.Mutex
	currentEtcdProvider EtcdProvider
)

func GetCurrentEtcdProvider(ctx context.Context) EtcdProvider {
	providerMu.Lock()
	defer providerMu.Unlock()
	if currentEtcdProvider == nil {
		currentEtcdProvider = NewDefaultEtcdProvider(ctx)
	}
	return currentEtcdProvider
}

// RunWithEtcdProvider swaps in provider while fn runs (tests only). The old provider is restored even if fn panics.
func RunWithEtcdProvider(provider EtcdProvider, fn func()) {
	klogging.Debug(context.Background()).Log("RunWithEtcdProvider", "")
	providerMu.Lock()
	oldProvider := currentEtcdProvider
	currentEtcdProvider = provider
	providerMu.Unlock()
	defer func() {
		providerMu.Lock()
		currentEtcdProvider = oldProvider
		providerMu.Unlock()
	}()
	fn()
}
