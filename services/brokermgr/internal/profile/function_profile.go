package profile

import (
	"github.com/xinkaiwang/faasmgr/services/brokermgr/bmgjson"
)

// FunctionProfile is the resolved, read-only profile of one function. Missing numbers resolve to 0.
type FunctionProfile struct {
	Name          string
	Worker        WorkerProfile
	ResourceLimit ResourceLimit
}

type WorkerProfile struct {
	ReservationCount int32
	// 0 means use the control plane default
	InitializationTimeoutMs int64
	MaxActivateRequests     int32
}

type ResourceLimit struct {
	Memory int64
}

func FunctionProfileJsonToProfile(obj *bmgjson.FunctionProfileJson) *FunctionProfile {
	fp := &FunctionProfile{Name: obj.Name}
	if wp := obj.Worker; wp != nil {
		if wp.ReservationCount != nil {
			fp.Worker.ReservationCount = *wp.ReservationCount
		}
		if wp.InitializationTimeoutMs != nil {
			fp.Worker.InitializationTimeoutMs = *wp.InitializationTimeoutMs
		}
		if wp.MaxActivateRequests != nil {
			fp.Worker.MaxActivateRequests = *wp.MaxActivateRequests
		}
	}
	if rl := obj.ResourceLimit; rl != nil && rl.Memory != nil {
		fp.ResourceLimit.Memory = *rl.Memory
	}
	return fp
}

func (fp *FunctionProfile) ToJson() *bmgjson.FunctionProfileJson {
	reservation := fp.Worker.ReservationCount
	timeout := fp.Worker.InitializationTimeoutMs
	maxActivate := fp.Worker.MaxActivateRequests
	memory := fp.ResourceLimit.Memory
	return &bmgjson.FunctionProfileJson{
		Name: fp.Name,
		Worker: &bmgjson.WorkerProfileJson{
			ReservationCount:        &reservation,
			InitializationTimeoutMs: &timeout,
			MaxActivateRequests:     &maxActivate,
		},
		ResourceLimit: &bmgjson.ResourceLimitJson{
			Memory: &memory,
		},
	}
}
