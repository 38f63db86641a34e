package core

import (
	"context"
	"math"
	"strconv"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kmetrics"
)

var (
	syncCycleMetrics         = kmetrics.CreateKmetric(context.Background(), "sync_cycle_count", "data plane sync cycles", []string{"result"}).CountOnly()
	syncReportSkippedMetrics = kmetrics.CreateKmetric(context.Background(), "sync_report_skipped", "reports ignored during sync", []string{"reason"}).CountOnly()
	workerEvictedMetrics     = kmetrics.CreateKmetric(context.Background(), "worker_evicted_count", "workers dropped after staying terminal and unreported", []string{"func"}).CountOnly()

	brokerWorkerCountGauge      = kmetrics.NewGaugeGroup("broker_worker_count", "running workers", "func", "inspector")
	brokerActiveRequestGauge    = kmetrics.NewGaugeGroup("broker_active_request_count", "in flight requests on running workers", "func", "inspector")
	brokerTotalMaxActivateGauge = kmetrics.NewGaugeGroup("broker_total_max_activate_requests", "concurrency capacity of running workers", "func", "inspector")
	brokerVirtualMemoryGauge    = kmetrics.NewGaugeGroup("broker_virtual_memory", "running workers times memory limit, bytes", "func", "inspector")
	brokerStartingPoolGauge     = kmetrics.NewGaugeGroup("broker_starting_pool_size", "workers still initializing", "func", "inspector")
	brokerReservationCountGauge = kmetrics.NewGaugeGroup("broker_reservation_count", "desired warm workers", "func", "inspector")
	brokerWaterLevelPctGauge    = kmetrics.NewGaugeGroup("broker_water_level_pct", "active / capacity in percent, absent without capacity", "func", "inspector")
)

type gaugeBuilder struct {
	gg   *kmetrics.GaugeGroup
	dict map[string]*kmetrics.GaugeTimeSequence
}

func newGaugeBuilder(gg *kmetrics.GaugeGroup) *gaugeBuilder {
	return &gaugeBuilder{gg: gg, dict: make(map[string]*kmetrics.GaugeTimeSequence)}
}

func (gb *gaugeBuilder) add(value int64, tags ...string) {
	seq := kmetrics.NewGaugeTimeSequence(gb.gg, value, tags...)
	gb.dict[seq.Key] = seq
}

func (gb *gaugeBuilder) publish() {
	gb.gg.UpdateValue(gb.dict)
}

// CollectMetrics publishes per broker gauges. Brokers that no longer exist disappear from every group.
func (dir *Directory) CollectMetrics(ctx context.Context) {
	workerCount := newGaugeBuilder(brokerWorkerCountGauge)
	active := newGaugeBuilder(brokerActiveRequestGauge)
	totalMax := newGaugeBuilder(brokerTotalMaxActivateGauge)
	virtualMemory := newGaugeBuilder(brokerVirtualMemoryGauge)
	startingPool := newGaugeBuilder(brokerStartingPoolGauge)
	reservation := newGaugeBuilder(brokerReservationCountGauge)
	waterLevel := newGaugeBuilder(brokerWaterLevelPctGauge)

	for _, broker := range dir.Brokers() {
		m := broker.Metrics()
		tags := []string{broker.Name(), strconv.FormatBool(broker.Inspector())}
		workerCount.add(int64(m.WorkerCount), tags...)
		active.add(m.ActiveRequestCount, tags...)
		totalMax.add(m.TotalMaxActivateRequests, tags...)
		virtualMemory.add(m.VirtualMemory, tags...)
		startingPool.add(int64(m.StartingPoolSize), tags...)
		reservation.add(int64(m.ReservationCount), tags...)
		if level := m.WaterLevel(); IsFiniteWaterLevel(level) {
			waterLevel.add(int64(math.Round(level*100)), tags...)
		}
	}

	for _, gb := range []*gaugeBuilder{workerCount, active, totalMax, virtualMemory, startingPool, reservation, waterLevel} {
		gb.publish()
	}
}
