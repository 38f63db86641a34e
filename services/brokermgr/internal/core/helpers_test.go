package core

import (
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/profile"
)

func newTestProfile(name string, reservation int32, maxActivate int32, memory int64) *profile.FunctionProfile {
	return &profile.FunctionProfile{
		Name: name,
		Worker: profile.WorkerProfile{
			ReservationCount:    reservation,
			MaxActivateRequests: maxActivate,
		},
		ResourceLimit: profile.ResourceLimit{Memory: memory},
	}
}

type testSetup struct {
	profiles *profile.StaticProfileProvider
	cfg      *config.StaticConfigProvider
}

func newTestSetup(profiles ...*profile.FunctionProfile) *testSetup {
	return &testSetup{
		profiles: profile.NewStaticProfileProvider(profiles...),
		cfg:      config.NewStaticConfigProvider(nil),
	}
}

func (setup *testSetup) newBroker(name string, inspector bool, disposable bool) *Broker {
	return NewBroker(setup.profiles, setup.cfg, name, inspector, disposable)
}

func workerCfg() *config.WorkerConfig {
	cfg := config.NewDefaultControlPlaneConfig().Worker
	return &cfg
}

func newReport(function string, name string, status data.WorkerStatus, maxActivate int32, active int32) *bmgjson.WorkerStatsJson {
	return &bmgjson.WorkerStatsJson{
		FunctionName:        function,
		Name:                name,
		Status:              status,
		MaxActivateRequests: maxActivate,
		ActiveRequestCount:  active,
	}
}
