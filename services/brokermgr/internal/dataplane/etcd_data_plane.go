package dataplane

import (
	"context"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/etcdprov"
)

var (
	dataPlaneMalformedMetrics = kmetrics.CreateKmetric(context.Background(), "dataplane_malformed_entry", "worker_eph entries that failed to parse", []string{}).CountOnly()
)

// EtcdDataPlane reads the reports data plane agents publish at /faas/worker_eph/<function>/<worker>.
type EtcdDataPlane struct {
	pm     *config.PathManager
	prefix string
}

func NewEtcdDataPlane() *EtcdDataPlane {
	pm := config.GetCurrentPathManager()
	return &EtcdDataPlane{
		pm:     pm,
		prefix: pm.GetWorkerEphPathPrefix(),
	}
}

func (edp *EtcdDataPlane) FetchWorkerStats(ctx context.Context) (ret []*bmgjson.WorkerStatsJson, err error) {
	var items []etcdprov.EtcdKvItem
	ke := kcommon.TryCatchRun(ctx, func() {
		items, _ = etcdprov.GetCurrentEtcdProvider(ctx).LoadAllByPrefix(ctx, edp.prefix)
	})
	if ke != nil {
		return nil, ke
	}

	ret = make([]*bmgjson.WorkerStatsJson, 0, len(items))
	for _, item := range items {
		report, ke := edp.parse(ctx, item)
		if ke != nil {
			klogging.Warning(ctx).WithError(ke).With("key", item.Key).Log("WorkerEphParseFailed", "skipped")
			dataPlaneMalformedMetrics.GetTimeSequence(ctx).Add(1)
			continue
		}
		ret = append(ret, report)
	}
	return ret, nil
}

// parse: function and worker names come from the path when the document leaves them out.
func (edp *EtcdDataPlane) parse(ctx context.Context, item etcdprov.EtcdKvItem) (report *bmgjson.WorkerStatsJson, ke *kerror.Kerror) {
	functionName, workerName, ok := edp.pm.ParseWorkerEphPath(item.Key)
	if !ok {
		return nil, kerror.Create("MalformedWorkerEphPath", "expected <prefix><function>/<worker>").WithErrorCode(kerror.EC_INVALID_PARAMETER).With("key", item.Key)
	}
	ke = kcommon.TryCatchRun(ctx, func() {
		report = bmgjson.WorkerStatsJsonFromJson(item.Value)
	})
	if ke != nil {
		return nil, ke
	}
	if report.FunctionName == "" {
		report.FunctionName = functionName
	}
	if report.Name == "" {
		report.Name = workerName
	}
	return report, nil
}
