package biz

import (
	"context"

	"github.com/google/uuid"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
	"github.com/xinkaiwang/faasmgr/libs/xklib/krunloop"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/api"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/common"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/config"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/core"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/dataplane"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/profile"
)

// App is what handlers talk to. Writes to the directory go through the run loop, reads go straight to the brokers.
type App struct {
	dir     *core.Directory
	runloop *krunloop.RunLoop[*core.Directory]
}

// NewApp starts the run loop and the first sync cycle. Everything stops when ctx is done.
func NewApp(ctx context.Context, profiles profile.Provider, cfgProvider config.ConfigProvider, dataPlane dataplane.Provider) *App {
	dir := core.NewDirectory(profiles, cfgProvider)
	app := &App{
		dir:     dir,
		runloop: krunloop.NewRunLoop(ctx, dir, "brokermgr"),
	}
	go app.runloop.Run(ctx)
	app.runloop.PostEvent(core.NewSyncCycleEvent(dataPlane, app.runloop))
	return app
}

func (app *App) Stop() {
	app.runloop.StopAndWaitForExit()
}

func (app *App) Ping(ctx context.Context) string {
	return "brokermgr:" + common.GetVersion()
}

// GetStatus snapshots every broker. A non nil status keeps only the workers in that status.
func (app *App) GetStatus(ctx context.Context, status *data.WorkerStatus) *api.GetStatusResponse {
	brokers := app.dir.ToJson()
	if status != nil {
		for _, broker := range brokers {
			workers := broker.Workers[:0]
			for _, worker := range broker.Workers {
				if worker.Status == *status {
					workers = append(workers, worker)
				}
			}
			broker.Workers = workers
		}
	}
	return &api.GetStatusResponse{
		Version:          common.GetVersion(),
		RunLoopQueueSize: app.runloop.QueueSize(),
		Brokers:          brokers,
	}
}

func (app *App) getBroker(functionName string, inspector bool) *core.Broker {
	broker := app.dir.GetBroker(functionName, inspector)
	if broker == nil {
		panic(kerror.Create("BrokerNotFound", "no broker for function").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("function", functionName).
			With("inspector", inspector))
	}
	return broker
}

func (app *App) GetBroker(ctx context.Context, functionName string, inspector bool) *api.GetBrokerResponse {
	broker := app.getBroker(functionName, inspector)
	m := broker.Metrics()
	resp := &api.GetBrokerResponse{
		Broker:                   broker.ToJson(),
		WorkerCount:              m.WorkerCount,
		ActiveRequestCount:       m.ActiveRequestCount,
		TotalMaxActivateRequests: m.TotalMaxActivateRequests,
		VirtualMemory:            m.VirtualMemory,
		ReservationCount:         m.ReservationCount,
		StartingPoolSize:         m.StartingPoolSize,
	}
	if level := m.WaterLevel(); core.IsFiniteWaterLevel(level) {
		resp.WaterLevel = &level
	}
	return resp
}

func (app *App) GetWorker(ctx context.Context, functionName string, inspector bool, workerName string) *api.GetWorkerResponse {
	if workerName == "" {
		panic(kerror.Create("InvalidParameter", "name is required").WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	worker := app.getBroker(functionName, inspector).GetWorker(data.WorkerName(workerName))
	if worker == nil {
		panic(kerror.Create("WorkerNotFound", "no such worker in broker").
			WithErrorCode(kerror.EC_NOT_FOUND).
			With("function", functionName).
			With("inspector", inspector).
			With("worker", workerName))
	}
	return &api.GetWorkerResponse{Worker: worker.ToJson()}
}

// RegisterWorker panics with a *kerror.Kerror on failure.
func (app *App) RegisterWorker(ctx context.Context, req *api.RegisterWorkerRequest) *api.RegisterWorkerResponse {
	if req.FunctionName == "" {
		panic(kerror.Create("InvalidParameter", "function_name is required").WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	if req.ProcessName == "" {
		panic(kerror.Create("InvalidParameter", "process_name is required").WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	metadata := core.WorkerMetadata{
		ProcessName: req.ProcessName,
		Credential:  req.Credential,
	}
	if metadata.Credential == "" {
		metadata.Credential = uuid.NewString()
	}
	eve := NewRegisterWorkerEvent(ctx, req.FunctionName, req.Inspector, req.Disposable, metadata)
	app.runloop.PostEvent(eve)
	var result registerResult
	select {
	case result = <-eve.resp:
	case <-ctx.Done():
		panic(kerror.Wrap(ctx.Err(), "RequestCanceled", "register worker canceled", false).WithErrorCode(kerror.EC_TIMEOUT))
	}
	if result.err != nil {
		panic(result.err)
	}
	klogging.Info(ctx).With("function", req.FunctionName).With("inspector", req.Inspector).With("worker", req.ProcessName).Log("RegisterWorker", "")
	return &api.RegisterWorkerResponse{Worker: result.worker.ToJson()}
}

// Prerequest: a function without broker has no starting worker, so nothing is admitted.
func (app *App) Prerequest(ctx context.Context, req *api.PrerequestRequest) *api.PrerequestResponse {
	broker := app.dir.GetBroker(req.FunctionName, req.Inspector)
	if broker == nil {
		return &api.PrerequestResponse{Admitted: false}
	}
	return &api.PrerequestResponse{Admitted: broker.PrerequestStartingPool()}
}

func (app *App) SetRedundantTimes(ctx context.Context, req *api.RedundantTimesRequest) *api.RedundantTimesResponse {
	if req.RedundantTimes < 0 {
		panic(kerror.Create("InvalidParameter", "redundant_times must not be negative").WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	broker := app.getBroker(req.FunctionName, req.Inspector)
	broker.SetRedundantTimes(req.RedundantTimes)
	return &api.RedundantTimesResponse{RedundantTimes: broker.RedundantTimes()}
}

type registerResult struct {
	worker *core.Worker
	err    *kerror.Kerror
}

// RegisterWorkerEvent implements krunloop.IEvent[*core.Directory]
type RegisterWorkerEvent struct {
	// reqCtx is the caller's context. A request given up before the event runs registers nothing.
	reqCtx       context.Context
	functionName string
	inspector    bool
	disposable   bool
	metadata     core.WorkerMetadata
	resp         chan registerResult
}

func NewRegisterWorkerEvent(reqCtx context.Context, functionName string, inspector bool, disposable bool, metadata core.WorkerMetadata) *RegisterWorkerEvent {
	return &RegisterWorkerEvent{
		reqCtx:       reqCtx,
		functionName: functionName,
		inspector:    inspector,
		disposable:   disposable,
		metadata:     metadata,
		resp:         make(chan registerResult, 1),
	}
}

func (eve *RegisterWorkerEvent) GetName() string {
	return "RegisterWorkerEvent"
}

func (eve *RegisterWorkerEvent) Process(ctx context.Context, dir *core.Directory) {
	result := registerResult{}
	defer func() {
		eve.resp <- result
	}()
	if err := eve.reqCtx.Err(); err != nil {
		klogging.Info(ctx).With("function", eve.functionName).With("worker", eve.metadata.ProcessName).Log("RegisterWorkerSkipped", "request canceled before registration")
		result.err = kerror.Wrap(err, "RequestCanceled", "register worker canceled", false).WithErrorCode(kerror.EC_TIMEOUT)
		return
	}
	worker, err := dir.Register(ctx, eve.functionName, eve.inspector, eve.disposable, eve.metadata)
	if err != nil {
		ke, ok := err.(*kerror.Kerror)
		if !ok {
			ke = kerror.Wrap(err, "RegisterWorkerFailed", err.Error(), false)
		}
		result.err = ke
		return
	}
	result.worker = worker
}
