package planner

import (
	"fmt"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/state"
	"github.com/groblegark/noderecon/internal/target"
)

// Diff compares the desired target against the observed state and returns
// the minimal Plan that moves state toward target (spec §4.3). Diff never
// mutates either argument.
func Diff(tgt target.Target, st *state.State) Plan {
	plan := Plan{Pods: make(map[core.UID]PodStep)}

	// First pass: every desired pod.
	for uid, podcfg := range tgt.Pods {
		pod, exists := st.Pods[uid]
		if !exists {
			// I4: CreatePod is only emitted for a UID absent from state,
			// and container analysis is skipped entirely for this tick.
			plan.Pods[uid] = PodStep{Kind: PodStepCreate, CreatePod: podcfg.Config}
			continue
		}

		steps := make(map[core.Name]ContainerStep)
		for name, ctrcfg := range podcfg.Containers {
			if step, ok := containerCreateOrStart(pod, name, ctrcfg, podcfg.Config); ok {
				steps[name] = step
			}
		}
		if len(steps) > 0 {
			plan.Pods[uid] = PodStep{Kind: PodStepChange, ChangePod: steps}
		}
	}

	// Second pass: every observed pod, looking for undesired pods and
	// extraneous containers under desired pods.
	for uid, pod := range st.Pods {
		podcfg, desired := tgt.Pods[uid]

		if !desired {
			addUndesiredPodStep(&plan, uid, pod)
			continue
		}

		for name, ctrstatus := range pod.Ctrs {
			if _, wanted := podcfg.Containers[name]; wanted {
				continue
			}
			step, emit := extraneousContainerStep(ctrstatus)
			if !emit {
				continue
			}
			mergeContainerStep(&plan, uid, name, step)
		}
	}

	return plan
}

// containerCreateOrStart implements the per-container table for desired
// pods that already exist in state (spec §4.3):
//
//	absent             -> CreateCtr
//	{id, Created}      -> StartCtr
//	{_, Running}       -> nothing
//	{id, Exited}       -> DeleteCtr (recreate on a later tick)
//	{_, Unknown}       -> nothing
func containerCreateOrStart(pod state.PodStatus, name core.Name, ctrcfg target.ContainerConfig, sandbox target.SandboxConfig) (ContainerStep, bool) {
	observed, ok := pod.Ctrs[name]
	if !ok {
		return ContainerStep{
			Kind:          ContainerStepCreate,
			CreatePod:     pod.ID,
			CreateCtr:     ctrcfg,
			CreateSandbox: sandbox,
		}, true
	}

	switch observed.State {
	case core.CtrCreated:
		return ContainerStep{Kind: ContainerStepStart, CtrID: observed.ID}, true
	case core.CtrRunning:
		return ContainerStep{}, false
	case core.CtrExited:
		return ContainerStep{Kind: ContainerStepDelete, CtrID: observed.ID}, true
	case core.CtrUnknown:
		return ContainerStep{}, false
	default:
		return ContainerStep{}, false
	}
}

// extraneousContainerStep implements the stop-or-delete table used for
// containers that are no longer desired, whether because their pod is
// undesired or because the container itself was dropped from the pod spec
// (spec §4.3): Running->Stop, Created/Exited->Delete, Unknown->skip.
func extraneousContainerStep(ctrstatus state.CtrStatus) (ContainerStep, bool) {
	switch ctrstatus.State {
	case core.CtrRunning:
		return ContainerStep{Kind: ContainerStepStop, CtrID: ctrstatus.ID}, true
	case core.CtrCreated, core.CtrExited:
		return ContainerStep{Kind: ContainerStepDelete, CtrID: ctrstatus.ID}, true
	default:
		return ContainerStep{}, false
	}
}

// addUndesiredPodStep handles a pod present in state but absent from
// target: stop every running container if any are running, otherwise
// delete the pod outright (spec §4.3 scenario 4).
func addUndesiredPodStep(plan *Plan, uid core.UID, pod state.PodStatus) {
	var stops map[core.Name]ContainerStep
	for name, ctrstatus := range pod.Ctrs {
		if ctrstatus.State == core.CtrRunning {
			if stops == nil {
				stops = make(map[core.Name]ContainerStep)
			}
			stops[name] = ContainerStep{Kind: ContainerStepStop, CtrID: ctrstatus.ID}
		}
	}
	if stops != nil {
		plan.Pods[uid] = PodStep{Kind: PodStepChange, ChangePod: stops}
		return
	}
	plan.Pods[uid] = PodStep{Kind: PodStepDelete, DeletePod: pod.ID}
}

// mergeContainerStep merges an extraneous-container step into the pod's
// existing plan entry, creating a ChangePod entry if none exists yet.
// Merging into a pod already marked Create or Delete is unreachable by
// construction (I3/I4: a UID appears in at most one of the two passes'
// "new plan entry" branches with a conflicting kind) — if it ever happens,
// that is a planner bug, and we panic with a clear message rather than
// silently corrupting the plan (spec §7).
func mergeContainerStep(plan *Plan, uid core.UID, name core.Name, step ContainerStep) {
	existing, ok := plan.Pods[uid]
	if !ok {
		plan.Pods[uid] = PodStep{Kind: PodStepChange, ChangePod: map[core.Name]ContainerStep{name: step}}
		return
	}
	switch existing.Kind {
	case PodStepChange:
		existing.ChangePod[name] = step
		plan.Pods[uid] = existing
	default:
		panic(fmt.Sprintf("planner: cannot merge extraneous container step for pod %s container %s into existing %v pod step — unreachable by invariants I3/I4", uid, name, existing.Kind))
	}
}
