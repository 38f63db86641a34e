package bmgjson

import (
	"encoding/json"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
)

// WorkerStatsJson is one worker's status report published by the data plane.
// path is "/faas/worker_eph/{function_name}/{worker_name}"
type WorkerStatsJson struct {
	FunctionName string `json:"function_name"`
	Inspector    bool   `json:"inspector,omitempty"`
	// Name is the process name. A report without name is malformed.
	Name   string            `json:"name"`
	Status data.WorkerStatus `json:"status,omitempty"`
	// Event is an optional container runtime event, applied after Status.
	Event               data.ContainerStatusReport `json:"event,omitempty"`
	MaxActivateRequests int32                      `json:"max_activate_requests"`
	ActiveRequestCount  int32                      `json:"active_request_count"`
	// Diagnostics is opaque container runtime state.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

func (obj *WorkerStatsJson) ToJson() string {
	bytes, err := json.Marshal(obj)
	if err != nil {
		ke := kerror.Wrap(err, "MarshalError", "failed to marshal WorkerStatsJson", false)
		panic(ke)
	}
	return string(bytes)
}

// WorkerStatsJsonFromJson does not check for a name: a nameless report is a sync level concern.
func WorkerStatsJsonFromJson(stringJson string) *WorkerStatsJson {
	var obj WorkerStatsJson
	err := json.Unmarshal([]byte(stringJson), &obj)
	if err != nil {
		ke := kerror.Wrap(err, "UnmarshalError", "failed to unmarshal WorkerStatsJson", false)
		panic(ke)
	}
	return &obj
}
