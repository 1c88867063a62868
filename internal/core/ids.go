// Package core defines the identifier and enum types shared across the
// reconciliation engine: pod/container identity and observed container
// state. Nothing in this package depends on the container runtime wire
// format or on Kubernetes client libraries.
package core

// UID is the cluster-level pod identity, supplied by the target source and
// stable across pod restarts.
type UID string

// PodId is the runtime-assigned sandbox id.
type PodId string

// CtrId is the runtime-assigned container id.
type CtrId string

// Name is a container name, unique within its pod.
type Name string

// CtrState is the observed lifecycle state of a container.
type CtrState int

const (
	CtrCreated CtrState = iota
	CtrRunning
	CtrExited
	CtrUnknown
)

func (s CtrState) String() string {
	switch s {
	case CtrCreated:
		return "Created"
	case CtrRunning:
		return "Running"
	case CtrExited:
		return "Exited"
	case CtrUnknown:
		return "Unknown"
	default:
		return "Invalid"
	}
}

// CtrStateFromCRI maps the CRI ContainerState integer (0..3) onto CtrState,
// per the wire contract in spec §6: {0:Created, 1:Running, 2:Exited, 3:Unknown}.
func CtrStateFromCRI(v int32) CtrState {
	switch v {
	case 0:
		return CtrCreated
	case 1:
		return CtrRunning
	case 2:
		return CtrExited
	default:
		return CtrUnknown
	}
}
