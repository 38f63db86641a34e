package etcdprov

import (
	"context"
	"strings"
	"time"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdDefaultProvider talks to a real etcd cluster.
// ETCD_ENDPOINTS: comma separated, default "localhost:2379"
// ETCD_DIAL_TIMEOUT: go duration string, default 5s
type etcdDefaultProvider struct {
	client *clientv3.Client
}

func NewDefaultEtcdProvider(ctx context.Context) EtcdProvider {
	endpoints := getEndpointsFromEnv()
	dialTimeout := getDialTimeoutFromEnv()

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		panic(kerror.Wrap(err, "EtcdConnectError", "failed to connect to etcd", false).
			WithErrorCode(kerror.EC_NETWORK_ERR).
			With("endpoints", strings.Join(endpoints, ",")))
	}
	klogging.Info(ctx).With("endpoints", strings.Join(endpoints, ",")).With("dialTimeout", dialTimeout.String()).Log("EtcdConnected", "")
	return &etcdDefaultProvider{
		client: cli,
	}
}

var (
	etcdOpCountMetric = kmetrics.CreateKmetric(context.Background(), "etcd_op_count", "etcd requests by op and result", []string{"op", "result"}).CountOnly()
)

func recordOp(ctx context.Context, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	etcdOpCountMetric.GetTimeSequence(ctx, op, result).Add(1)
}

func networkError(err error, op string, key string) *kerror.Kerror {
	return kerror.Wrap(err, "EtcdError", "etcd "+op+" failed", false).
		WithErrorCode(kerror.EC_NETWORK_ERR).
		With("op", op).
		With("key", key)
}

// get panics with EC_NETWORK_ERR on failure.
func (pvd *etcdDefaultProvider) get(ctx context.Context, op string, key string, opts ...clientv3.OpOption) *clientv3.GetResponse {
	resp, err := pvd.client.Get(ctx, key, opts...)
	recordOp(ctx, op, err)
	if err != nil {
		panic(networkError(err, op, key))
	}
	return resp
}

func itemsOf(resp *clientv3.GetResponse) []EtcdKvItem {
	items := make([]EtcdKvItem, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		items = append(items, EtcdKvItem{
			Key:         string(kv.Key),
			Value:       string(kv.Value),
			ModRevision: EtcdRevision(kv.ModRevision),
		})
	}
	return items
}

func (pvd *etcdDefaultProvider) Get(ctx context.Context, key string) EtcdKvItem {
	items := itemsOf(pvd.get(ctx, "get", key))
	if len(items) == 0 {
		return EtcdKvItem{Key: key}
	}
	return items[0]
}

func (pvd *etcdDefaultProvider) List(ctx context.Context, startKey string, maxCount int) []EtcdKvItem {
	opts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	}
	if maxCount > 0 {
		opts = append(opts, clientv3.WithLimit(int64(maxCount)))
	}
	items := itemsOf(pvd.get(ctx, "list", startKey, opts...))
	klogging.Debug(ctx).With("startKey", startKey).With("count", len(items)).Log("EtcdList", "")
	return items
}

func (pvd *etcdDefaultProvider) Set(ctx context.Context, key, value string) {
	_, err := pvd.client.Put(ctx, key, value)
	recordOp(ctx, "put", err)
	if err != nil {
		panic(networkError(err, "put", key))
	}
}

func (pvd *etcdDefaultProvider) Delete(ctx context.Context, key string, strictMode bool) {
	resp, err := pvd.client.Delete(ctx, key)
	recordOp(ctx, "delete", err)
	if err != nil {
		panic(networkError(err, "delete", key))
	}
	if strictMode && resp.Deleted == 0 {
		panic(newKeyNotFoundError(key))
	}
}

func getEndpointsFromEnv() []string {
	if endpoints := kcommon.GetEnvString("ETCD_ENDPOINTS", ""); endpoints != "" {
		return strings.Split(endpoints, ",")
	}
	return []string{"localhost:2379"}
}

func getDialTimeoutFromEnv() time.Duration {
	if timeout := kcommon.GetEnvString("ETCD_DIAL_TIMEOUT", ""); timeout != "" {
		if value, err := time.ParseDuration(timeout); err == nil {
			return value
		}
	}
	return 5 * time.Second
}

// LoadAllByPrefix pages through the prefix, every page pinned at the revision of the first one.
func (pvd *etcdDefaultProvider) LoadAllByPrefix(ctx context.Context, pathPrefix string) ([]EtcdKvItem, EtcdRevision) {
	const pageSize = 1000
	rangeEnd := clientv3.GetPrefixRangeEnd(pathPrefix)

	var items []EtcdKvItem
	revision := int64(0)
	key := pathPrefix
	for {
		opts := []clientv3.OpOption{
			clientv3.WithRange(rangeEnd),
			clientv3.WithLimit(pageSize),
		}
		if revision > 0 {
			opts = append(opts, clientv3.WithRev(revision))
		}
		resp := pvd.get(ctx, "load", key, opts...)
		if revision == 0 {
			revision = resp.Header.Revision
		}
		page := itemsOf(resp)
		items = append(items, page...)
		if !resp.More || len(page) == 0 {
			break
		}
		key = page[len(page)-1].Key + "\x00"
	}

	klogging.Debug(ctx).With("pathPrefix", pathPrefix).With("count", len(items)).With("revision", revision).Log("LoadAllByPrefix", "")
	return items, EtcdRevision(revision)
}

// WatchByPrefix reconnects on error and resumes from the last seen revision.
func (pvd *etcdDefaultProvider) WatchByPrefix(ctx context.Context, pathPrefix string, revision EtcdRevision) chan EtcdKvItem {
	eventChan := make(chan EtcdKvItem, 100)

	go func() {
		defer close(eventChan)
		currentRev := revision

		for {
			if ctx.Err() != nil {
				return
			}
			opts := []clientv3.OpOption{clientv3.WithPrefix()}
			if currentRev > 0 {
				opts = append(opts, clientv3.WithRev(int64(currentRev)))
			}
			klogging.Info(ctx).With("pathPrefix", pathPrefix).With("revision", currentRev).Log("WatchByPrefix", "starting watch")
			watchChan := pvd.client.Watch(ctx, pathPrefix, opts...)

			for wresp := range watchChan {
				if wresp.CompactRevision > 0 {
					klogging.Warning(ctx).
						With("pathPrefix", pathPrefix).
						With("requestedRevision", currentRev).
						With("compactRevision", wresp.CompactRevision).
						Log("WatchByPrefix", "requested revision has been compacted")
					currentRev = EtcdRevision(wresp.CompactRevision)
					break
				}
				if wresp.Err() != nil {
					klogging.Error(ctx).WithError(wresp.Err()).With("pathPrefix", pathPrefix).With("revision", currentRev).Log("WatchByPrefix", "watch error")
					break
				}
				for _, event := range wresp.Events {
					item := EtcdKvItem{
						Key:         string(event.Kv.Key),
						ModRevision: EtcdRevision(event.Kv.ModRevision),
					}
					if event.Type == clientv3.EventTypePut {
						item.Value = string(event.Kv.Value)
					}
					currentRev = EtcdRevision(event.Kv.ModRevision + 1)
					select {
					case eventChan <- item:
					case <-ctx.Done():
						return
					}
				}
			}

			if ctx.Err() != nil {
				return
			}
			klogging.Warning(ctx).With("pathPrefix", pathPrefix).With("revision", currentRev).Log("WatchByPrefix", "watch channel closed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()

	return eventChan
}
