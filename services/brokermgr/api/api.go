package api

import (
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
)

type GetStatusResponse struct {
	Version          string                        `json:"version"`
	// RunLoopQueueSize is the number of events waiting for the run loop
	RunLoopQueueSize int64                         `json:"runloop_queue_size"`
	Brokers          []*bmgjson.BrokerSnapshotJson `json:"brokers"`
}

type GetWorkerResponse struct {
	Worker *bmgjson.WorkerSnapshotJson `json:"worker"`
}

type GetBrokerResponse struct {
	Broker                   *bmgjson.BrokerSnapshotJson `json:"broker"`
	WorkerCount              int32                       `json:"worker_count"`
	ActiveRequestCount       int64                       `json:"active_request_count"`
	TotalMaxActivateRequests int64                       `json:"total_max_activate_requests"`
	// WaterLevel is null when there is no running capacity
	WaterLevel       *float64 `json:"water_level"`
	VirtualMemory    int64    `json:"virtual_memory"`
	ReservationCount int32    `json:"reservation_count"`
	StartingPoolSize int32    `json:"starting_pool_size"`
}

type RegisterWorkerRequest struct {
	FunctionName string `json:"function_name"`
	Inspector    bool   `json:"inspector,omitempty"`
	Disposable   bool   `json:"disposable,omitempty"`
	ProcessName  string `json:"process_name"`
	// generated when empty
	Credential string `json:"credential,omitempty"`
}

type RegisterWorkerResponse struct {
	Worker *bmgjson.WorkerSnapshotJson `json:"worker"`
}

type PrerequestRequest struct {
	FunctionName string `json:"function_name"`
	Inspector    bool   `json:"inspector,omitempty"`
}

type PrerequestResponse struct {
	Admitted bool `json:"admitted"`
}

type RedundantTimesRequest struct {
	FunctionName   string `json:"function_name"`
	Inspector      bool   `json:"inspector,omitempty"`
	RedundantTimes int32  `json:"redundant_times"`
}

type RedundantTimesResponse struct {
	RedundantTimes int32 `json:"redundant_times"`
}

type ErrorResponse struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Code      string `json:"code"`
}
