package ksysmetrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"go.opencensus.io/metric"
	"go.opencensus.io/metric/metricdata"
)

// ProcessStats is one sample of the process resource usage.
type ProcessStats struct {
	UserCpuSeconds   float64
	SystemCpuSeconds float64
	HeapBytes        int64
	StackBytes       int64
	SysMemoryBytes   int64
	Goroutines       int64
	OpenFds          int64
	GcPauseTotalNs   int64
	GcCount          int64
	GcCpuFraction    float64
}

// Collector samples process stats periodically. Gauges read the latest sample.
type Collector struct {
	registry *metric.Registry
	version  string
	latest   atomic.Pointer[ProcessStats]
}

// NewCollector registers the process gauges, labeled with version.
func NewCollector(version string) *Collector {
	if version == "" {
		version = "unknown"
	}
	c := &Collector{
		registry: metric.NewRegistry(),
		version:  version,
	}
	c.latest.Store(&ProcessStats{})
	label := metricdata.NewLabelValue(version)

	addFloat := func(name, desc, unit string, read func(*ProcessStats) float64) {
		gauge, err := c.registry.AddFloat64DerivedGauge(name, metric.WithDescription(desc), metric.WithUnit(metricdata.Unit(unit)), metric.WithLabelKeys("version"))
		if err != nil {
			panic(err)
		}
		gauge.UpsertEntry(func() float64 { return read(c.latest.Load()) }, label)
	}
	addInt := func(name, desc, unit string, read func(*ProcessStats) int64) {
		gauge, err := c.registry.AddInt64DerivedGauge(name, metric.WithDescription(desc), metric.WithUnit(metricdata.Unit(unit)), metric.WithLabelKeys("version"))
		if err != nil {
			panic(err)
		}
		gauge.UpsertEntry(func() int64 { return read(c.latest.Load()) }, label)
	}

	addFloat("process_user_cpu_seconds", "User CPU time spent in seconds", "s", func(s *ProcessStats) float64 { return s.UserCpuSeconds })
	addFloat("process_system_cpu_seconds", "System CPU time spent in seconds", "s", func(s *ProcessStats) float64 { return s.SystemCpuSeconds })
	addInt("process_heap_bytes", "Process heap memory in bytes", "By", func(s *ProcessStats) int64 { return s.HeapBytes })
	addInt("process_stack_bytes", "Process stack memory in bytes", "By", func(s *ProcessStats) int64 { return s.StackBytes })
	addInt("process_sys_memory_bytes", "Memory obtained from the OS in bytes", "By", func(s *ProcessStats) int64 { return s.SysMemoryBytes })
	addInt("process_goroutines", "Number of goroutines", "1", func(s *ProcessStats) int64 { return s.Goroutines })
	addInt("process_open_fds", "Number of open file descriptors", "1", func(s *ProcessStats) int64 { return s.OpenFds })
	addInt("process_gc_pause_total_ns", "Total GC pause time in nanoseconds", "ns", func(s *ProcessStats) int64 { return s.GcPauseTotalNs })
	addInt("process_gc_count", "Number of completed GC cycles", "1", func(s *ProcessStats) int64 { return s.GcCount })
	addFloat("process_gc_cpu_fraction", "Fraction of CPU time used by GC", "1", func(s *ProcessStats) float64 { return s.GcCpuFraction })
	return c
}

// Registry implements metricproducer.Producer through its Read method.
func (c *Collector) Registry() *metric.Registry {
	return c.registry
}

func (c *Collector) Version() string {
	return c.version
}

func (c *Collector) Latest() ProcessStats {
	return *c.latest.Load()
}

// Start samples once right away, then every interval until ctx is done.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	c.Collect(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Collect(ctx)
			}
		}
	}()
}

func (c *Collector) Collect(ctx context.Context) {
	stats := &ProcessStats{}
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err == nil {
		stats.UserCpuSeconds = timevalSeconds(rusage.Utime)
		stats.SystemCpuSeconds = timevalSeconds(rusage.Stime)
	} else {
		klogging.Warning(ctx).WithError(err).Log("CpuMetricsError", "failed to collect cpu usage")
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.HeapBytes = int64(memStats.HeapAlloc)
	stats.StackBytes = int64(memStats.StackInuse)
	stats.SysMemoryBytes = int64(memStats.Sys)
	stats.GcPauseTotalNs = int64(memStats.PauseTotalNs)
	stats.GcCount = int64(memStats.NumGC)
	stats.GcCpuFraction = memStats.GCCPUFraction
	stats.Goroutines = int64(runtime.NumGoroutine())

	// not available outside linux, keep it 0
	if fds, err := openFdCount(os.Getpid()); err == nil {
		stats.OpenFds = int64(fds)
	}
	c.latest.Store(stats)
}

func timevalSeconds(tv syscall.Timeval) float64 {
	return (time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond).Seconds()
}

func openFdCount(pid int) (int, error) {
	fds, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
	if err != nil {
		return 0, err
	}
	return len(fds), nil
}
