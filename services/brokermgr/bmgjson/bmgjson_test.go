package bmgjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xinkaiwang/faasmgr/services/brokermgr/internal/data"
)

func TestFunctionProfileJson(t *testing.T) {
	obj := FunctionProfileJsonFromJson(`{"name":"hello","worker":{"reservation_count":2,"max_activate_requests":10},"resource_limit":{"memory":536870912}}`)
	assert.Equal(t, "hello", obj.Name)
	assert.Equal(t, int32(2), *obj.Worker.ReservationCount)
	assert.Nil(t, obj.Worker.InitializationTimeoutMs)
	assert.Equal(t, int64(536870912), *obj.ResourceLimit.Memory)
	assert.Equal(t, obj.ToJson(), FunctionProfileJsonFromJson(obj.ToJson()).ToJson())

	assert.Panics(t, func() { FunctionProfileJsonFromJson(`{"worker":{}}`) })
	assert.Panics(t, func() { FunctionProfileJsonFromJson(`not json`) })
}

func TestWorkerStatsJson(t *testing.T) {
	obj := WorkerStatsJsonFromJson(`{"function_name":"hello","name":"w1","status":"ready","event":3,"max_activate_requests":10,"active_request_count":3}`)
	assert.Equal(t, "w1", obj.Name)
	assert.Equal(t, data.WS_Ready, obj.Status)
	assert.Equal(t, data.CSR_ContainerDisconnected, obj.Event)
	assert.Equal(t, int32(3), obj.ActiveRequestCount)

	noName := WorkerStatsJsonFromJson(`{"function_name":"hello","status":2}`)
	assert.Equal(t, "", noName.Name)
	assert.Panics(t, func() { WorkerStatsJsonFromJson(`{"status":"booting"}`) })
}

func TestControlPlaneConfigJson(t *testing.T) {
	empty := ControlPlaneConfigJsonFromJson("")
	assert.Nil(t, empty.Worker)

	obj := ControlPlaneConfigJsonFromJson(`{"worker":{"max_missed_sync_count":5},"broker":{"drop_idle_disposable":false}}`)
	assert.Equal(t, int32(5), *obj.Worker.MaxMissedSyncCount)
	assert.False(t, *obj.Broker.DropIdleDisposable)

	yamlObj := ControlPlaneConfigJsonFromYaml([]byte("sync:\n  interval_ms: 250\n"))
	assert.Equal(t, int32(250), *yamlObj.Sync.IntervalMs)
	assert.Panics(t, func() { ControlPlaneConfigJsonFromYaml([]byte("sync: [")) })
}
