package bmgjson

import (
	"encoding/json"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
	"gopkg.in/yaml.v3"
)

// path is "/faas/config/control_plane.json". All fields are optional.
type ControlPlaneConfigJson struct {
	Worker *WorkerConfigJson `json:"worker,omitempty" yaml:"worker,omitempty"`
	Sync   *SyncConfigJson   `json:"sync,omitempty" yaml:"sync,omitempty"`
	Broker *BrokerConfigJson `json:"broker,omitempty" yaml:"broker,omitempty"`
}

type WorkerConfigJson struct {
	DefaultInitializerTimeoutMs *int64 `json:"default_initializer_timeout_ms,omitempty" yaml:"default_initializer_timeout_ms,omitempty"`
	// consecutive unreported cycles before a running worker is considered unknown
	MaxMissedSyncCount *int32 `json:"max_missed_sync_count,omitempty" yaml:"max_missed_sync_count,omitempty"`
	// consecutive unreported cycles before a stopped/unknown worker is dropped
	EvictAfterMissedSyncCount *int32 `json:"evict_after_missed_sync_count,omitempty" yaml:"evict_after_missed_sync_count,omitempty"`
}

type SyncConfigJson struct {
	IntervalMs *int32 `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
}

type BrokerConfigJson struct {
	DropIdleDisposable *bool `json:"drop_idle_disposable,omitempty" yaml:"drop_idle_disposable,omitempty"`
}

func (obj *ControlPlaneConfigJson) ToJson() string {
	bytes, err := json.Marshal(obj)
	if err != nil {
		ke := kerror.Wrap(err, "MarshalError", "failed to marshal ControlPlaneConfigJson", false)
		panic(ke)
	}
	return string(bytes)
}

// ControlPlaneConfigJsonFromJson: empty string means all defaults.
func ControlPlaneConfigJsonFromJson(stringJson string) *ControlPlaneConfigJson {
	obj := &ControlPlaneConfigJson{}
	if stringJson == "" {
		return obj
	}
	err := json.Unmarshal([]byte(stringJson), obj)
	if err != nil {
		ke := kerror.Wrap(err, "UnmarshalError", "failed to unmarshal ControlPlaneConfigJson", false)
		panic(ke)
	}
	return obj
}

func ControlPlaneConfigJsonFromYaml(content []byte) *ControlPlaneConfigJson {
	obj := &ControlPlaneConfigJson{}
	err := yaml.Unmarshal(content, obj)
	if err != nil {
		ke := kerror.Wrap(err, "UnmarshalError", "failed to unmarshal control plane config yaml", false)
		panic(ke)
	}
	return obj
}
