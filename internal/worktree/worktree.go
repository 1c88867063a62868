// Package worktree turns a Plan into a set of supervised tasks, reusing
// in-flight tasks across reconciliations and cancelling whatever is no
// longer the right thing to do (spec §4.4). WorkTree mirrors Plan's shape
// one level down: PodTask/ContainerTask carry a running *task.Task instead
// of the step's static payload.
package worktree

import (
	"context"
	"log/slog"
	"time"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/criruntime"
	"github.com/groblegark/noderecon/internal/planner"
	"github.com/groblegark/noderecon/internal/task"
)

// DefaultRetryInterval is CRI_RETRY_INTERVAL's spec §6 default: the pause
// between retry attempts of a failing runtime operation, used when a
// caller does not override it via config.Config.CRIRetryInterval.
const DefaultRetryInterval = 200 * time.Millisecond

// PodTask is the in-flight-work projection of a PodStep.
type PodTask struct {
	Kind planner.PodStepKind

	CreateTask *task.Task                         // Kind == PodStepCreate
	ChangeTask map[core.Name]ContainerTask         // Kind == PodStepChange
	DeleteTask *task.Task                          // Kind == PodStepDelete
}

// ContainerTask is the in-flight-work projection of a ContainerStep.
type ContainerTask struct {
	Kind planner.ContainerStepKind
	Task *task.Task
}

// WorkTree is the full set of in-flight pod tasks, keyed by cluster UID.
type WorkTree struct {
	Pods map[core.UID]PodTask
}

// New returns an empty WorkTree.
func New() WorkTree {
	return WorkTree{Pods: make(map[core.UID]PodTask)}
}

// ImagePuller optionally short-circuits PullImage for images already known
// to be present, avoiding a redundant pull on every CreateCtr retry
// attempt (SPEC_FULL §4 enrichment). A nil ImagePuller means always pull.
type ImagePuller interface {
	EnsurePulled(ctx context.Context, client criruntime.RuntimeClient, image string) error
}

// Execute diffs plan against old, reusing any task whose step variant is
// unchanged for the same UID (and, within a ChangePod, the same container
// name), spawning fresh tasks for everything else, and cancelling every
// task left over in old once the loop completes (spec §4.4, P5, P6).
// retryInterval is CRI_RETRY_INTERVAL (spec §6), the pause between retry
// attempts of a spawned task's runtime operation.
func Execute(ctx context.Context, plan planner.Plan, old WorkTree, client criruntime.RuntimeClient, puller ImagePuller, retryInterval time.Duration, logger *slog.Logger) WorkTree {
	next := New()

	for uid, step := range plan.Pods {
		oldPodTask, hadOld := old.Pods[uid]
		delete(old.Pods, uid)

		next.Pods[uid] = reconcilePod(ctx, uid, step, oldPodTask, hadOld, client, puller, retryInterval, logger)
	}

	// Anything remaining in old was not mentioned in the new plan: cancel it.
	for uid, leftover := range old.Pods {
		logger.Info("cancelling pod task dropped from plan", "uid", uid)
		cancelPodTask(leftover)
	}

	return next
}

func reconcilePod(ctx context.Context, uid core.UID, step planner.PodStep, old PodTask, hadOld bool, client criruntime.RuntimeClient, puller ImagePuller, retryInterval time.Duration, logger *slog.Logger) PodTask {
	if hadOld && old.Kind == step.Kind {
		switch step.Kind {
		case planner.PodStepCreate:
			return old // carry forward unchanged
		case planner.PodStepDelete:
			return old // carry forward unchanged
		case planner.PodStepChange:
			return PodTask{
				Kind:       planner.PodStepChange,
				ChangeTask: reconcileContainers(ctx, uid, step.ChangePod, old.ChangeTask, client, puller, retryInterval, logger),
			}
		}
	}

	// Any other combination: cancel whatever was running (if anything) and
	// spawn fresh.
	if hadOld {
		cancelPodTask(old)
	}
	return spawnPod(ctx, uid, step, client, puller, retryInterval, logger)
}

func reconcileContainers(ctx context.Context, uid core.UID, steps map[core.Name]planner.ContainerStep, old map[core.Name]ContainerTask, client criruntime.RuntimeClient, puller ImagePuller, retryInterval time.Duration, logger *slog.Logger) map[core.Name]ContainerTask {
	next := make(map[core.Name]ContainerTask, len(steps))

	for name, step := range steps {
		oldCtrTask, hadOld := old[name]
		if hadOld {
			delete(old, name)
		}

		if hadOld && oldCtrTask.Kind == step.Kind {
			next[name] = oldCtrTask
			continue
		}
		if hadOld {
			oldCtrTask.Task.Cancel()
		}
		next[name] = spawnContainer(ctx, uid, name, step, client, puller, retryInterval, logger)
	}

	// Containers no longer in the new step set are dropped: cancel them.
	for name, leftover := range old {
		logger.Info("cancelling container task dropped from plan", "uid", uid, "container", name)
		leftover.Task.Cancel()
	}

	return next
}

func cancelPodTask(pt PodTask) {
	switch pt.Kind {
	case planner.PodStepCreate, planner.PodStepDelete:
		t := pt.CreateTask
		if t == nil {
			t = pt.DeleteTask
		}
		if t != nil {
			t.Cancel()
		}
	case planner.PodStepChange:
		for _, ct := range pt.ChangeTask {
			ct.Task.Cancel()
		}
	}
}

func spawnPod(ctx context.Context, uid core.UID, step planner.PodStep, client criruntime.RuntimeClient, puller ImagePuller, retryInterval time.Duration, logger *slog.Logger) PodTask {
	switch step.Kind {
	case planner.PodStepCreate:
		cfg := step.CreatePod
		t := task.New(func(ctx context.Context) error {
			_, err := client.CreateSandbox(ctx, cfg)
			return err
		}, task.Always, retryInterval, logger)
		return PodTask{Kind: planner.PodStepCreate, CreateTask: t}

	case planner.PodStepDelete:
		id := step.DeletePod
		t := task.New(func(ctx context.Context) error {
			return client.RemovePod(ctx, id)
		}, task.Always, retryInterval, logger)
		return PodTask{Kind: planner.PodStepDelete, DeleteTask: t}

	case planner.PodStepChange:
		tasks := make(map[core.Name]ContainerTask, len(step.ChangePod))
		for name, cstep := range step.ChangePod {
			tasks[name] = spawnContainer(ctx, uid, name, cstep, client, puller, retryInterval, logger)
		}
		return PodTask{Kind: planner.PodStepChange, ChangeTask: tasks}
	}
	panic("worktree: unreachable pod step kind")
}

func spawnContainer(ctx context.Context, uid core.UID, name core.Name, step planner.ContainerStep, client criruntime.RuntimeClient, puller ImagePuller, retryInterval time.Duration, logger *slog.Logger) ContainerTask {
	switch step.Kind {
	case planner.ContainerStepCreate:
		pod, ctrcfg, sandbox := step.CreatePod, step.CreateCtr, step.CreateSandbox
		t := task.New(func(ctx context.Context) error {
			// Image pull must succeed before container creation is
			// attempted — one task, two calls in sequence (spec §4.4).
			if puller != nil {
				if err := puller.EnsurePulled(ctx, client, ctrcfg.Image); err != nil {
					return err
				}
			} else if _, err := client.PullImage(ctx, ctrcfg.Image); err != nil {
				return err
			}
			_, err := client.CreateContainer(ctx, pod, ctrcfg, sandbox)
			return err
		}, task.Always, retryInterval, logger)
		return ContainerTask{Kind: planner.ContainerStepCreate, Task: t}

	case planner.ContainerStepStart:
		id := step.CtrID
		t := task.New(func(ctx context.Context) error {
			return client.StartContainer(ctx, id)
		}, task.Always, retryInterval, logger)
		return ContainerTask{Kind: planner.ContainerStepStart, Task: t}

	case planner.ContainerStepStop:
		id := step.CtrID
		t := task.New(func(ctx context.Context) error {
			return client.StopContainer(ctx, id)
		}, task.Always, retryInterval, logger)
		return ContainerTask{Kind: planner.ContainerStepStop, Task: t}

	case planner.ContainerStepDelete:
		id := step.CtrID
		t := task.New(func(ctx context.Context) error {
			return client.RemoveContainer(ctx, id)
		}, task.Always, retryInterval, logger)
		return ContainerTask{Kind: planner.ContainerStepDelete, Task: t}
	}
	panic("worktree: unreachable container step kind")
}

// CancelAll cancels every task in wt — used when the control loop shuts
// down (spec P6: dropping a WorkTree cancels every contained Task).
func CancelAll(wt WorkTree) {
	for _, pt := range wt.Pods {
		cancelPodTask(pt)
	}
}
