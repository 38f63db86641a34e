package bmgjson

import (
	"encoding/json"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
)

// path is "/faas/profile/{function_name}"
type FunctionProfileJson struct {
	Name          string             `json:"name" yaml:"name"`
	Worker        *WorkerProfileJson `json:"worker,omitempty" yaml:"worker,omitempty"`
	ResourceLimit *ResourceLimitJson `json:"resource_limit,omitempty" yaml:"resource_limit,omitempty"`
}

type WorkerProfileJson struct {
	// ReservationCount is the desired warm pool size
	ReservationCount *int32 `json:"reservation_count,omitempty" yaml:"reservation_count,omitempty"`
	// 0 or absent means use the control plane default
	InitializationTimeoutMs *int64 `json:"initialization_timeout_ms,omitempty" yaml:"initialization_timeout_ms,omitempty"`
	// MaxActivateRequests is the per worker concurrency ceiling
	MaxActivateRequests *int32 `json:"max_activate_requests,omitempty" yaml:"max_activate_requests,omitempty"`
}

type ResourceLimitJson struct {
	// Memory in bytes
	Memory *int64 `json:"memory,omitempty" yaml:"memory,omitempty"`
}

func (obj *FunctionProfileJson) ToJson() string {
	bytes, err := json.Marshal(obj)
	if err != nil {
		ke := kerror.Wrap(err, "MarshalError", "failed to marshal FunctionProfileJson", false)
		panic(ke)
	}
	return string(bytes)
}

func FunctionProfileJsonFromJson(stringJson string) *FunctionProfileJson {
	var obj FunctionProfileJson
	err := json.Unmarshal([]byte(stringJson), &obj)
	if err != nil {
		ke := kerror.Wrap(err, "UnmarshalError", "failed to unmarshal FunctionProfileJson", false)
		panic(ke)
	}
	if obj.Name == "" {
		panic(kerror.Create("UnmarshalError", "missing required field: name"))
	}
	return &obj
}
