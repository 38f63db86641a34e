package dataplane

import (
	"context"
	"sync"

	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
)

// Provider fetches the latest worker status reports across all functions.
// An error means the whole snapshot is unavailable, not that one report is bad.
type Provider interface {
	FetchWorkerStats(ctx context.Context) ([]*bmgjson.WorkerStatsJson, error)
}

// FakeDataPlane returns whatever was last set.
type FakeDataPlane struct {
	mu      sync.Mutex
	reports []*bmgjson.WorkerStatsJson
	err     error
	fetches int
}

func NewFakeDataPlane() *FakeDataPlane {
	return &FakeDataPlane{}
}

func (fdp *FakeDataPlane) SetReports(reports ...*bmgjson.WorkerStatsJson) {
	fdp.mu.Lock()
	defer fdp.mu.Unlock()
	fdp.reports = reports
	fdp.err = nil
}

// SetError makes every following fetch fail until SetReports is called.
func (fdp *FakeDataPlane) SetError(err error) {
	fdp.mu.Lock()
	defer fdp.mu.Unlock()
	fdp.err = err
}

func (fdp *FakeDataPlane) FetchCount() int {
	fdp.mu.Lock()
	defer fdp.mu.Unlock()
	return fdp.fetches
}

func (fdp *FakeDataPlane) FetchWorkerStats(ctx context.Context) ([]*bmgjson.WorkerStatsJson, error) {
	fdp.mu.Lock()
	defer fdp.mu.Unlock()
	fdp.fetches++
	if fdp.err != nil {
		return nil, fdp.err
	}
	return append([]*bmgjson.WorkerStatsJson{}, fdp.reports...), nil
}
