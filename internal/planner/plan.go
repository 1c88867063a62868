// Package planner implements the pure diff between desired state (target)
// and observed state (state), producing a minimal per-pod Plan (spec §4.3).
//
// Plan, PodStep and ContainerStep are tagged unions, not an interface
// hierarchy: each has a Kind enum and the payload fields for that kind are
// the only ones populated (spec §9 — sealed sum types, never base classes).
package planner

import (
	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/target"
)

// PodStepKind identifies which variant of PodStep is populated.
type PodStepKind int

const (
	// PodStepCreate means the pod sandbox and, implicitly, no containers
	// have been examined yet — see spec §4.3, container analysis is
	// skipped for a UID absent from state.
	PodStepCreate PodStepKind = iota
	PodStepChange
	PodStepDelete
)

// PodStep is one pod's worth of planned work.
type PodStep struct {
	Kind PodStepKind

	// CreatePod is populated when Kind == PodStepCreate.
	CreatePod target.SandboxConfig

	// ChangePod is populated when Kind == PodStepChange. Keys are
	// container names; the map is never empty (spec §4.3 only collects
	// non-empty maps into a ChangePod).
	ChangePod map[core.Name]ContainerStep

	// DeletePod is populated when Kind == PodStepDelete.
	DeletePod core.PodId
}

// ContainerStepKind identifies which variant of ContainerStep is populated.
type ContainerStepKind int

const (
	ContainerStepCreate ContainerStepKind = iota
	ContainerStepStart
	ContainerStepStop
	ContainerStepDelete
)

// ContainerStep is one container's worth of planned work.
type ContainerStep struct {
	Kind ContainerStepKind

	// Populated when Kind == ContainerStepCreate.
	CreatePod     core.PodId
	CreateCtr     target.ContainerConfig
	CreateSandbox target.SandboxConfig

	// Populated for Start, Stop, Delete respectively.
	CtrID core.CtrId
}

// Plan is the full set of per-pod steps produced by Diff.
type Plan struct {
	Pods map[core.UID]PodStep
}
