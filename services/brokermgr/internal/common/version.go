package common

import (
	"github.com/google/uuid"
	"github.com/xinkaiwang/faasmgr/libs/xklib/kcommon"
)

var (
	version     = "unknown" // set by -ldflags
	sessionId   = uuid.NewString()
	startTimeMs = kcommon.GetWallTimeMs()
)

func GetVersion() string {
	return version
}

// GetSessionId is unique per process start.
func GetSessionId() string {
	return sessionId
}

func GetStartTimeMs() int64 {
	return startTimeMs
}
