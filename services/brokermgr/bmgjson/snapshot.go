package bmgjson

import (
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
)

// Snapshots are for diagnostics only. They are never read back into state.

type WorkerSnapshotJson struct {
	Name                    string            `json:"name"`
	Credential              string            `json:"credential"`
	Status                  data.WorkerStatus `json:"status"`
	RegisteredAtMs          int64             `json:"registered_at_ms"`
	InitializationTimeoutMs int64             `json:"initialization_timeout_ms"`
	MissedSyncCount         int32             `json:"missed_sync_count"`
	// Degraded: unknown only because reports went missing, the next report brings it back
	Degraded                bool              `json:"degraded,omitempty"`
	Data                    *WorkerDataJson   `json:"data,omitempty"`
	Diagnostics             []string          `json:"diagnostics,omitempty"`
}

// WorkerDataJson is the latest self-reported counters of a worker.
type WorkerDataJson struct {
	MaxActivateRequests int32 `json:"max_activate_requests"`
	ActiveRequestCount  int32 `json:"active_request_count"`
}

type StartingPoolItemJson struct {
	WorkerName          string `json:"worker_name"`
	Credential          string `json:"credential"`
	EstimateRequestLeft int32  `json:"estimate_request_left"`
	MaxActivateRequests int32  `json:"max_activate_requests"`
}

type BrokerSnapshotJson struct {
	Name           string                  `json:"name"`
	Inspector      bool                    `json:"inspector"`
	Disposable     bool                    `json:"disposable,omitempty"`
	Profile        *FunctionProfileJson    `json:"profile"`
	RedundantTimes int32                   `json:"redundant_times"`
	StartingPool   []*StartingPoolItemJson `json:"starting_pool"`
	Workers        []*WorkerSnapshotJson   `json:"workers"`
}
