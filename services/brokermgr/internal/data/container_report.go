package data

// ContainerStatusReport is a direct event from the container runtime, as opposed to a periodic status snapshot.
type ContainerStatusReport int8

const (
	CSR_ContainerInstalled    ContainerStatusReport = 1
	CSR_RequestDrained        ContainerStatusReport = 2
	CSR_ContainerDisconnected ContainerStatusReport = 3
)

func (csr ContainerStatusReport) String() string {
	switch csr {
	case CSR_ContainerInstalled:
		return "container_installed"
	case CSR_RequestDrained:
		return "request_drained"
	case CSR_ContainerDisconnected:
		return "container_disconnected"
	default:
		return "invalid"
	}
}

// TargetStatus is the status a worker moves to on this event. ok is false for an unrecognized event.
func (csr ContainerStatusReport) TargetStatus() (ws WorkerStatus, ok bool) {
	switch csr {
	case CSR_ContainerInstalled:
		return WS_Ready, true
	case CSR_RequestDrained:
		return WS_PendingStop, true
	case CSR_ContainerDisconnected:
		return WS_Stopped, true
	default:
		return 0, false
	}
}
