package core

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
)

func TestBrokerRegisterAndPrerequest(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 2, 10, 512))
	b := setup.newBroker("f", false, false)
	assert.Equal(t, int32(2), b.ReservationCount())

	w, err := b.Register(ctx, WorkerMetadata{ProcessName: "w1", Credential: "c1"})
	assert.Nil(t, err)
	assert.Equal(t, data.WorkerName("w1"), w.Name())
	assert.Same(t, w, b.GetWorker("w1"))
	assert.Equal(t, []StartingPoolItem{{WorkerName: "w1", Credential: "c1", EstimateRequestLeft: 10, MaxActivateRequests: 10}}, b.StartingPool())

	assert.True(t, b.PrerequestStartingPool())
	assert.Equal(t, int32(9), b.StartingPool()[0].EstimateRequestLeft)
	// nothing is running yet
	assert.Equal(t, int32(0), b.WorkerCount())
}

func TestBrokerSyncRunningWorker(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 2, 10, 512))
	b := setup.newBroker("f", false, false)
	_, err := b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	assert.Nil(t, err)

	stats := b.Sync(ctx, []*bmgjson.WorkerStatsJson{newReport("f", "w1", data.WS_Ready, 10, 3)})
	assert.Equal(t, 1, stats.Applied)
	assert.Empty(t, b.StartingPool())
	assert.Equal(t, int32(1), b.WorkerCount())
	assert.Equal(t, int64(3), b.ActiveRequestCount())
	assert.Equal(t, int64(10), b.TotalMaxActivateRequests())
	assert.InDelta(t, 0.3, b.WaterLevel(), 1e-9)
	assert.Equal(t, int64(512), b.VirtualMemory())
}

func TestBrokerEmptySyncKeepsWorker(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	_, err := b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	assert.Nil(t, err)

	stats := b.Sync(ctx, nil)
	assert.Equal(t, 1, stats.Missed)
	w := b.GetWorker("w1")
	assert.NotNil(t, w)
	assert.Equal(t, int32(1), w.MissedSyncCount())
	assert.True(t, w.IsInitializating())
	assert.Equal(t, 1, len(b.StartingPool()))
}

func TestBrokerWorkerRecoversAfterReportingGap(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 256))
	b := setup.newBroker("f", false, false)
	_, err := b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	assert.Nil(t, err)
	b.Sync(ctx, []*bmgjson.WorkerStatsJson{newReport("f", "w1", data.WS_Ready, 10, 3)})
	assert.Equal(t, int32(1), b.WorkerCount())

	for i := int32(0); i < workerCfg().MaxMissedSyncCount; i++ {
		b.Sync(ctx, nil)
	}
	assert.Equal(t, int32(0), b.WorkerCount())
	assert.Equal(t, data.WS_Unknown, b.GetWorker("w1").Status())

	b.Sync(ctx, []*bmgjson.WorkerStatsJson{newReport("f", "w1", data.WS_Ready, 10, 5)})
	assert.True(t, b.GetWorker("w1").IsRunning())
	assert.Equal(t, int32(1), b.WorkerCount())
	assert.Equal(t, int64(5), b.ActiveRequestCount())
	assert.Equal(t, int64(10), b.TotalMaxActivateRequests())
	assert.Equal(t, int64(256), b.VirtualMemory())
	assert.InDelta(t, 0.5, b.WaterLevel(), 1e-9)
	assert.Empty(t, b.StartingPool())
}

func TestBrokerRegisterWithoutProfile(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	_, err := b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	assert.Nil(t, err)

	setup.profiles.Delete("f")
	// still cached until the next sync
	_, err = b.Register(ctx, WorkerMetadata{ProcessName: "w2"})
	assert.Nil(t, err)

	b.Sync(ctx, nil)
	assert.Nil(t, b.Profile())
	_, err = b.Register(ctx, WorkerMetadata{ProcessName: "w3"})
	assert.NotNil(t, err)
	assert.True(t, kerror.IsType(err, "FunctionProfileNotFound"))
	assert.Equal(t, kerror.EC_NOT_FOUND, kerror.ErrorCodeOf(err))
	assert.Nil(t, b.GetWorker("w3"))
	// existing workers are still tracked
	assert.Equal(t, 2, b.Size())

	setup.profiles.Set(newTestProfile("f", 0, 10, 0))
	b.Sync(ctx, nil)
	_, err = b.Register(ctx, WorkerMetadata{ProcessName: "w3"})
	assert.Nil(t, err)
}

func TestBrokerRegisterUniqueness(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	first, _ := b.Register(ctx, WorkerMetadata{ProcessName: "w1", Credential: "old"})
	b.PrerequestStartingPool()
	second, _ := b.Register(ctx, WorkerMetadata{ProcessName: "w1", Credential: "new"})

	assert.NotSame(t, first, second)
	assert.Same(t, second, b.GetWorker("w1"))
	assert.Equal(t, 1, b.Size())
	pool := b.StartingPool()
	assert.Equal(t, 1, len(pool))
	assert.Equal(t, "new", pool[0].Credential)
	assert.Equal(t, int32(10), pool[0].EstimateRequestLeft)

	_, err := b.Register(ctx, WorkerMetadata{})
	assert.Equal(t, kerror.EC_INVALID_PARAMETER, kerror.ErrorCodeOf(err))
}

func TestBrokerSyncNeverCreatesWorkers(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1"})

	stats := b.Sync(ctx, []*bmgjson.WorkerStatsJson{
		newReport("f", "ghost", data.WS_Ready, 10, 1),
		newReport("f", "", data.WS_Ready, 10, 1),
		nil,
		newReport("f", "w1", data.WS_Created, 10, 0),
		newReport("f", "w1", data.WS_Ready, 10, 0),
	})
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 2, stats.NoName)
	// the second w1 report is ignored: one report per worker per cycle
	assert.Equal(t, 2, stats.UnknownWorker)
	assert.Nil(t, b.GetWorker("ghost"))
	assert.Equal(t, 1, b.Size())
	assert.True(t, b.GetWorker("w1").IsInitializating())
}

func TestBrokerAdmissionBound(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 2, 0))
	b := setup.newBroker("f", false, false)
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w2"})

	// oldest registration first
	assert.True(t, b.PrerequestStartingPool())
	assert.Equal(t, int32(1), b.StartingPool()[0].EstimateRequestLeft)
	assert.Equal(t, int32(2), b.StartingPool()[1].EstimateRequestLeft)

	for i := 0; i < 3; i++ {
		assert.True(t, b.PrerequestStartingPool())
	}
	for i := 0; i < 3; i++ {
		assert.False(t, b.PrerequestStartingPool())
	}
	for _, item := range b.StartingPool() {
		assert.Equal(t, int32(0), item.EstimateRequestLeft)
	}
}

func TestBrokerStartingPoolRefreshFromReport(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1"})

	b.Sync(ctx, []*bmgjson.WorkerStatsJson{newReport("f", "w1", data.WS_Created, 8, 3)})
	pool := b.StartingPool()
	assert.Equal(t, int32(8), pool[0].MaxActivateRequests)
	assert.Equal(t, int32(5), pool[0].EstimateRequestLeft)

	b.PrerequestStartingPool()
	// a missed cycle has no fresh data, the estimate is left alone
	b.Sync(ctx, nil)
	assert.Equal(t, int32(4), b.StartingPool()[0].EstimateRequestLeft)
}

func TestBrokerStartingPoolEvictOnTerminal(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w2"})

	b.Sync(ctx, []*bmgjson.WorkerStatsJson{
		newReport("f", "w1", data.WS_Stopped, 0, 0),
		newReport("f", "w2", data.WS_Created, 10, 0),
	})
	pool := b.StartingPool()
	assert.Equal(t, 1, len(pool))
	assert.Equal(t, data.WorkerName("w2"), pool[0].WorkerName)
	// failed workers are still tracked, just not counted
	assert.NotNil(t, b.GetWorker("w1"))
	assert.Equal(t, int32(0), b.WorkerCount())

	b.RemoveItemFromStartingPool("w2")
	b.RemoveItemFromStartingPool("missing")
	assert.Empty(t, b.StartingPool())
}

func TestBrokerEvictsTerminalWorkers(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w2"})
	b.Sync(ctx, []*bmgjson.WorkerStatsJson{
		newReport("f", "w1", data.WS_Ready, 10, 0),
		newReport("f", "w2", data.WS_Created, 10, 0),
	})

	cfg := setup.cfg.GetConfig().Worker
	evicted := 0
	for i := int32(0); i < cfg.EvictAfterMissedSyncCount; i++ {
		evicted += b.Sync(ctx, []*bmgjson.WorkerStatsJson{newReport("f", "w2", data.WS_Created, 10, 0)}).Evicted
		assertStartingPoolSubset(t, b)
	}
	assert.Equal(t, 1, evicted)
	assert.Nil(t, b.GetWorker("w1"))
	assert.NotNil(t, b.GetWorker("w2"))
}

func TestBrokerInitTimeout(t *testing.T) {
	ctx := context.Background()
	fakeTime := kcommon.NewFakeTimeProvider(1000)
	kcommon.RunWithTimeProvider(fakeTime, func() {
		fp := newTestProfile("f", 0, 10, 0)
		fp.Worker.InitializationTimeoutMs = 3000
		setup := newTestSetup(fp)
		b := setup.newBroker("f", false, false)
		assert.Equal(t, int64(3000), b.InitializationTimeoutMs())
		_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1"})

		fakeTime.VirtualTimeForward(ctx, 3001)
		b.Sync(ctx, nil)
		assert.Equal(t, data.WS_Unknown, b.GetWorker("w1").Status())
		assert.Empty(t, b.StartingPool())
		assertStartingPoolSubset(t, b)
	})
}

func TestBrokerDefaultInitTimeout(t *testing.T) {
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	assert.Equal(t, int64(10000), b.InitializationTimeoutMs())
}

func TestBrokerReservationCount(t *testing.T) {
	setup := newTestSetup(newTestProfile("f", 3, 10, 0))
	assert.Equal(t, int32(3), setup.newBroker("f", false, false).ReservationCount())
	assert.Equal(t, int32(1), setup.newBroker("f", true, false).ReservationCount())
	assert.Equal(t, int32(1), setup.newBroker("f", true, true).ReservationCount())
	assert.Equal(t, int32(0), setup.newBroker("f", false, true).ReservationCount())
	assert.Equal(t, int32(0), setup.newBroker("unknown", false, false).ReservationCount())
	assert.Equal(t, int64(0), setup.newBroker("unknown", false, false).MemoryLimit())
}

func TestBrokerWaterLevelWithoutCapacity(t *testing.T) {
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	assert.True(t, math.IsNaN(b.WaterLevel()))
	assert.False(t, IsFiniteWaterLevel(b.WaterLevel()))

	m := BrokerMetrics{ActiveRequestCount: 1}
	assert.True(t, math.IsInf(m.WaterLevel(), 1))
	assert.False(t, IsFiniteWaterLevel(m.WaterLevel()))
}

func TestBrokerMetricConsistency(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 100))
	b := setup.newBroker("f", false, false)
	reports := []*bmgjson.WorkerStatsJson{}
	for i, active := range []int32{0, 4, 10, 7} {
		name := string(rune('a' + i))
		_, _ = b.Register(ctx, WorkerMetadata{ProcessName: name})
		reports = append(reports, newReport("f", name, data.WS_Ready, 10, active))
	}
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "booting"})
	reports = append(reports, newReport("f", "booting", data.WS_Created, 10, 9))
	b.Sync(ctx, reports)

	m := b.Metrics()
	assert.Equal(t, int32(4), m.WorkerCount)
	assert.Equal(t, int64(21), m.ActiveRequestCount)
	assert.Equal(t, int64(40), m.TotalMaxActivateRequests)
	assert.LessOrEqual(t, m.ActiveRequestCount, m.TotalMaxActivateRequests)
	assert.Equal(t, int64(400), m.VirtualMemory)
	assert.Equal(t, int32(1), m.StartingPoolSize)
}

func TestBrokerRedundantTimes(t *testing.T) {
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	assert.Equal(t, int32(1), b.IncRedundantTimes())
	assert.Equal(t, int32(2), b.IncRedundantTimes())
	b.SetRedundantTimes(0)
	assert.Equal(t, int32(0), b.RedundantTimes())
	assert.Equal(t, data.BrokerKey("f:noinspector"), b.Key())
}

func TestBrokerToJson(t *testing.T) {
	ctx := context.Background()
	kcommon.RunWithTimeProvider(kcommon.NewFakeTimeProvider(5000), func() {
		setup := newTestSetup(newTestProfile("f", 1, 4, 64))
		b := setup.newBroker("f", true, false)
		_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w2", Credential: "c2"})
		_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1", Credential: "c1"})
		b.Sync(ctx, []*bmgjson.WorkerStatsJson{newReport("f", "w1", data.WS_Ready, 4, 1)})
		b.PrerequestStartingPool()
		b.SetRedundantTimes(2)

		reservation, timeout, maxActivate, memory := int32(1), int64(0), int32(4), int64(64)
		expected := &bmgjson.BrokerSnapshotJson{
			Name:      "f",
			Inspector: true,
			Profile: &bmgjson.FunctionProfileJson{
				Name:          "f",
				Worker:        &bmgjson.WorkerProfileJson{ReservationCount: &reservation, InitializationTimeoutMs: &timeout, MaxActivateRequests: &maxActivate},
				ResourceLimit: &bmgjson.ResourceLimitJson{Memory: &memory},
			},
			RedundantTimes: 2,
			StartingPool: []*bmgjson.StartingPoolItemJson{
				{WorkerName: "w2", Credential: "c2", EstimateRequestLeft: 3, MaxActivateRequests: 4},
			},
			Workers: []*bmgjson.WorkerSnapshotJson{
				{Name: "w1", Credential: "c1", Status: data.WS_Ready, RegisteredAtMs: 5000, InitializationTimeoutMs: 10000, Data: &bmgjson.WorkerDataJson{MaxActivateRequests: 4, ActiveRequestCount: 1}, Diagnostics: []string{}},
				{Name: "w2", Credential: "c2", Status: data.WS_Created, RegisteredAtMs: 5000, InitializationTimeoutMs: 10000, MissedSyncCount: 1, Diagnostics: []string{}},
			},
		}
		if diff := cmp.Diff(expected, b.ToJson()); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}
	})
}

// readers must never see a half applied sync
func TestBrokerConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	setup := newTestSetup(newTestProfile("f", 0, 10, 0))
	b := setup.newBroker("f", false, false)
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w1"})
	_, _ = b.Register(ctx, WorkerMetadata{ProcessName: "w2"})
	reportsFor := func(active int32) []*bmgjson.WorkerStatsJson {
		return []*bmgjson.WorkerStatsJson{
			newReport("f", "w1", data.WS_Ready, 10, active),
			newReport("f", "w2", data.WS_Ready, 10, active),
		}
	}
	b.Sync(ctx, reportsFor(1))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				m := b.Metrics()
				if m.ActiveRequestCount != 2 && m.ActiveRequestCount != 10 {
					t.Errorf("torn read: active=%d", m.ActiveRequestCount)
					return
				}
				b.PrerequestStartingPool()
			}
		}()
	}
	for i := 0; i < 500; i++ {
		if i%2 == 0 {
			b.Sync(ctx, reportsFor(5))
		} else {
			b.Sync(ctx, reportsFor(1))
		}
	}
	close(stop)
	wg.Wait()
}

func assertStartingPoolSubset(t *testing.T, b *Broker) {
	t.Helper()
	for _, item := range b.StartingPool() {
		assert.NotNil(t, b.GetWorker(item.WorkerName), "starting pool entry %s has no worker", item.WorkerName)
	}
}
