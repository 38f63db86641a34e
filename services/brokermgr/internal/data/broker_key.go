package data

import (
	"strings"

	"github.com/xinkaiwang/faasmgr/libs/xklib/kerror"
)

// BrokerKey identifies one broker: "<functionName>:inspector" or "<functionName>:noinspector".
type BrokerKey string

// WorkerName is the process name of a worker, unique within its broker.
type WorkerName string

func MakeBrokerKey(functionName string, inspector bool) BrokerKey {
	if inspector {
		return BrokerKey(functionName + ":inspector")
	}
	return BrokerKey(functionName + ":noinspector")
}

// Split is the reverse of MakeBrokerKey.
func (key BrokerKey) Split() (functionName string, inspector bool) {
	str := string(key)
	idx := strings.LastIndex(str, ":")
	if idx < 0 {
		panic(kerror.Create("InvalidBrokerKey", "broker key has no inspector suffix").With("key", str))
	}
	switch str[idx+1:] {
	case "inspector":
		return str[:idx], true
	case "noinspector":
		return str[:idx], false
	default:
		panic(kerror.Create("InvalidBrokerKey", "unknown inspector suffix").With("key", str))
	}
}
