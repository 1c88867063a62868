// Package state maintains the best local estimate of pods and containers
// actually present in the runtime. It is populated two ways: a wholesale
// ingest from a list snapshot, and incremental application of streamed
// container events (spec §4.1). State is owned exclusively by the control
// loop — nothing in this package takes a lock, by design (spec §9).
package state

import (
	"log/slog"

	"github.com/groblegark/noderecon/internal/core"
)

// CtrStatus is the observed status of one container.
type CtrStatus struct {
	ID    core.CtrId
	State core.CtrState
}

// PodStatus is the observed status of one pod sandbox and its containers.
type PodStatus struct {
	ID   core.PodId
	Ctrs map[core.Name]CtrStatus
}

// State is the observed set of pods on this node, keyed by cluster UID.
type State struct {
	Pods map[core.UID]PodStatus
}

// New returns an empty State.
func New() *State {
	return &State{Pods: make(map[core.UID]PodStatus)}
}

// PodSnapshot is one entry of a list_pods result (spec §6).
type PodSnapshot struct {
	ID        core.PodId
	UID       core.UID
	Name      string
	Namespace string
}

// ContainerSnapshot is one entry of a list_containers result (spec §6). Name
// is carried as the "name" label on the container, per spec §6; it is
// resolved by the caller (the CRI adapter) before Ingest is called so that
// this package never has to know about CRI label conventions — see
// internal/criclient for where ContainerLabelName is read.
type ContainerSnapshot struct {
	ID           core.CtrId
	PodSandboxID core.PodId
	Name         core.Name
	State        core.CtrState
}

// Ingest replaces the contents of s wholesale from a list snapshot: every
// pod is rebuilt fresh, and every container is attached to the pod whose
// sandbox id matches the container's PodSandboxID. A container whose
// PodSandboxID does not match any listed pod is dropped — a runtime
// inconsistency, logged and ignored (spec §4.1, §7).
func (s *State) Ingest(containers []ContainerSnapshot, pods []PodSnapshot, logger *slog.Logger) {
	fresh := make(map[core.UID]PodStatus, len(pods))
	podIDToUID := make(map[core.PodId]core.UID, len(pods))
	for _, p := range pods {
		fresh[p.UID] = PodStatus{ID: p.ID, Ctrs: make(map[core.Name]CtrStatus)}
		podIDToUID[p.ID] = p.UID
	}

	for _, c := range containers {
		uid, ok := podIDToUID[c.PodSandboxID]
		if !ok {
			logger.Warn("dropping container with unknown pod_sandbox_id",
				"container", c.ID, "pod_sandbox_id", c.PodSandboxID)
			continue
		}
		fresh[uid].Ctrs[c.Name] = CtrStatus{ID: c.ID, State: c.State}
	}

	s.Pods = fresh
}

// SandboxInfo is the pod_sandbox_status submessage of a streamed container
// event, when present (spec §4.1, §6).
type SandboxInfo struct {
	ID  core.PodId
	UID core.UID
}

// ContainerStatusInfo is one entry of a streamed event's containers_statuses
// list (spec §4.1, §6).
type ContainerStatusInfo struct {
	ID    core.CtrId
	Name  core.Name
	State core.CtrState
}

// Event is one streamed container event, with enough fields to distinguish
// its shape without a dedicated type tag (spec §4.1):
//
//   - Pod-deletion: SandboxStatus is nil.
//   - Pod-creation: ContainerID equals SandboxStatus.ID.
//   - Container-state: anything else.
type Event struct {
	ContainerID       string
	SandboxStatus     *SandboxInfo
	ContainerStatuses []ContainerStatusInfo
}

// Observe applies one streamed container event to s. Events are idempotent
// replacements at pod granularity: a pod-creation or container-state event
// replaces that pod's entire PodStatus, never merges into it (spec §4.1,
// P3). A malformed event — a container-state event with no sandbox UID to
// key on — is logged and ignored, leaving s untouched (spec §7).
func (s *State) Observe(ev Event, logger *slog.Logger) {
	if ev.SandboxStatus == nil {
		// Pod-deletion event: drop every pod whose id equals ContainerID.
		for uid, pod := range s.Pods {
			if string(pod.ID) == ev.ContainerID {
				delete(s.Pods, uid)
			}
		}
		return
	}

	if ev.ContainerID == string(ev.SandboxStatus.ID) {
		// Pod-creation event: insert/overwrite with an empty container set.
		s.Pods[ev.SandboxStatus.UID] = PodStatus{
			ID:   ev.SandboxStatus.ID,
			Ctrs: make(map[core.Name]CtrStatus),
		}
		return
	}

	// Container-state event: authoritative replacement for this pod.
	if ev.SandboxStatus.UID == "" {
		logger.Warn("dropping malformed container event: missing sandbox uid",
			"container_id", ev.ContainerID)
		return
	}
	ctrs := make(map[core.Name]CtrStatus, len(ev.ContainerStatuses))
	for _, cs := range ev.ContainerStatuses {
		ctrs[cs.Name] = CtrStatus{ID: cs.ID, State: cs.State}
	}
	s.Pods[ev.SandboxStatus.UID] = PodStatus{ID: ev.SandboxStatus.ID, Ctrs: ctrs}
}

// Clone returns a deep-enough copy of s suitable for a read-only snapshot
// (e.g. for the status introspection endpoint, spec §9).
func (s *State) Clone() *State {
	out := New()
	for uid, pod := range s.Pods {
		ctrs := make(map[core.Name]CtrStatus, len(pod.Ctrs))
		for name, cs := range pod.Ctrs {
			ctrs[name] = cs
		}
		out.Pods[uid] = PodStatus{ID: pod.ID, Ctrs: ctrs}
	}
	return out
}
