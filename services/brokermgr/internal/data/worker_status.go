package data

import (
	"encoding/json"
	"strings"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
)

// WorkerStatus is the container status of one worker process. Values only move forward.
type WorkerStatus int8

const (
	WS_Created     WorkerStatus = 1
	WS_Ready       WorkerStatus = 2
	WS_PendingStop WorkerStatus = 3
	WS_Stopped     WorkerStatus = 4
	WS_Unknown     WorkerStatus = 5
)

var workerStatusNames = map[WorkerStatus]string{
	WS_Created:     "created",
	WS_Ready:       "ready",
	WS_PendingStop: "pending_stop",
	WS_Stopped:     "stopped",
	WS_Unknown:     "unknown",
}

func (ws WorkerStatus) String() string {
	if name, ok := workerStatusNames[ws]; ok {
		return name
	}
	return "invalid"
}

func (ws WorkerStatus) IsValid() bool {
	_, ok := workerStatusNames[ws]
	return ok
}

// IsTerminal: stopped or unknown, nothing more will happen to this worker.
func (ws WorkerStatus) IsTerminal() bool {
	return ws == WS_Stopped || ws == WS_Unknown
}

// CanTransitionTo returns true when moving from ws to next goes forward. Unknown is reachable from anywhere but never left.
// A worker put in unknown by missed syncs is restored by the core package, not by a transition.
func (ws WorkerStatus) CanTransitionTo(next WorkerStatus) bool {
	if !next.IsValid() || ws == WS_Unknown {
		return false
	}
	if next == WS_Unknown {
		return true
	}
	return next > ws
}

func workerStatusByName(str string) (WorkerStatus, bool) {
	for k, v := range workerStatusNames {
		if v == strings.ToLower(str) {
			return k, true
		}
	}
	return 0, false
}

func ParseWorkerStatus(str string) WorkerStatus {
	ws, ok := workerStatusByName(str)
	if !ok {
		panic(kerror.Create("InvalidWorkerStatus", "unknown worker status").With("value", str).WithErrorCode(kerror.EC_INVALID_PARAMETER))
	}
	return ws
}

// MarshalJSON writes the status as its name.
func (ws WorkerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(ws.String())
}

// UnmarshalJSON accepts either the name or the numeric value.
func (ws *WorkerStatus) UnmarshalJSON(b []byte) error {
	var num int8
	if err := json.Unmarshal(b, &num); err == nil {
		if !WorkerStatus(num).IsValid() {
			return kerror.Create("InvalidWorkerStatus", "unknown worker status").With("value", num).WithErrorCode(kerror.EC_INVALID_PARAMETER)
		}
		*ws = WorkerStatus(num)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return kerror.Wrap(err, "InvalidWorkerStatus", "worker status must be a string or number", false)
	}
	parsed, ok := workerStatusByName(str)
	if !ok {
		return kerror.Create("InvalidWorkerStatus", "unknown worker status").With("value", str).WithErrorCode(kerror.EC_INVALID_PARAMETER)
	}
	*ws = parsed
	return nil
}
