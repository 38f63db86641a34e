package config

import "strings"

var (
	currentPathManager = NewPathManager()
)

func GetCurrentPathManager() *PathManager {
	return currentPathManager
}

type PathManager struct {
}

func NewPathManager() *PathManager {
	return &PathManager{}
}

func (pm *PathManager) GetControlPlaneConfigPath() string {
	return "/faas/config/control_plane.json"
}

func (pm *PathManager) GetProfilePathPrefix() string {
	return "/faas/profile/"
}

func (pm *PathManager) GetWorkerEphPathPrefix() string {
	return "/faas/worker_eph/"
}

// ParseProfilePath returns the function name of a key under the profile prefix.
func (pm *PathManager) ParseProfilePath(key string) (functionName string, ok bool) {
	name, found := strings.CutPrefix(key, pm.GetProfilePathPrefix())
	if !found || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// ParseWorkerEphPath splits /faas/worker_eph/<function>/<worker> into its two names.
func (pm *PathManager) ParseWorkerEphPath(key string) (functionName string, workerName string, ok bool) {
	rest, found := strings.CutPrefix(key, pm.GetWorkerEphPathPrefix())
	if !found {
		return "", "", false
	}
	functionName, workerName, found = strings.Cut(rest, "/")
	if !found || functionName == "" || workerName == "" || strings.Contains(workerName, "/") {
		return "", "", false
	}
	return functionName, workerName, true
}
