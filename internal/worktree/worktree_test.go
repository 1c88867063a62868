package worktree

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/criruntime"
	"github.com/groblegark/noderecon/internal/planner"
	"github.com/groblegark/noderecon/internal/state"
	"github.com/groblegark/noderecon/internal/target"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient counts calls and lets tests control whether CreateSandbox
// ever succeeds, so a spawned task can be observed as "still running".
type fakeClient struct {
	mu             sync.Mutex
	createSandbox  int32
	removePod      int32
	createCtr      int32
	pullImage      int32
	startCtr       int32
	stopCtr        int32
	removeCtr      int32
	blockSandboxes bool
}

func (f *fakeClient) ListPods(ctx context.Context) ([]state.PodSnapshot, error)             { return nil, nil }
func (f *fakeClient) ListContainers(ctx context.Context) ([]state.ContainerSnapshot, error) { return nil, nil }

func (f *fakeClient) PullImage(ctx context.Context, image string) (string, error) {
	atomic.AddInt32(&f.pullImage, 1)
	return image, nil
}

func (f *fakeClient) CreateSandbox(ctx context.Context, cfg target.SandboxConfig) (core.PodId, error) {
	atomic.AddInt32(&f.createSandbox, 1)
	if f.blockSandboxes {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "newpod", nil
}

func (f *fakeClient) CreateContainer(ctx context.Context, pod core.PodId, cfg target.ContainerConfig, sandbox target.SandboxConfig) (core.CtrId, error) {
	atomic.AddInt32(&f.createCtr, 1)
	return "newctr", nil
}

func (f *fakeClient) StartContainer(ctx context.Context, id core.CtrId) error {
	atomic.AddInt32(&f.startCtr, 1)
	return nil
}

func (f *fakeClient) StopContainer(ctx context.Context, id core.CtrId) error {
	atomic.AddInt32(&f.stopCtr, 1)
	return nil
}

func (f *fakeClient) RemoveContainer(ctx context.Context, id core.CtrId) error {
	atomic.AddInt32(&f.removeCtr, 1)
	return nil
}

func (f *fakeClient) RemovePod(ctx context.Context, id core.PodId) error {
	atomic.AddInt32(&f.removePod, 1)
	return nil
}

func (f *fakeClient) GetContainerEvents(ctx context.Context) (criruntime.EventStream, error) {
	return nil, nil
}

func waitForAtLeast(t *testing.T, counter *int32, n int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(counter) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("counter never reached %d, got %d", n, atomic.LoadInt32(counter))
}

// Scenario 5: worktree reuse across reconciliations.
func TestExecute_ReusesTaskAcrossUnchangedPlan(t *testing.T) {
	client := &fakeClient{blockSandboxes: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := target.SandboxConfig{Name: "p", UID: "u1"}
	plan := planner.Plan{Pods: map[core.UID]planner.PodStep{
		"u1": {Kind: planner.PodStepCreate, CreatePod: cfg},
	}}

	wt1 := Execute(ctx, plan, New(), client, nil, time.Millisecond, silentLogger())
	waitForAtLeast(t, &client.createSandbox, 1)

	taskA := wt1.Pods["u1"].CreateTask

	wt2 := Execute(ctx, plan, wt1, client, nil, time.Millisecond, silentLogger())
	taskB := wt2.Pods["u1"].CreateTask

	if taskA != taskB {
		t.Error("Execute() did not carry the existing Task forward for an unchanged step")
	}

	// Changing the plan to DeletePod must cancel the old task and spawn a new one.
	deletePlan := planner.Plan{Pods: map[core.UID]planner.PodStep{
		"u1": {Kind: planner.PodStepDelete, DeletePod: "newpod"},
	}}
	wt3 := Execute(ctx, deletePlan, wt2, client, nil, time.Millisecond, silentLogger())
	waitForAtLeast(t, &client.removePod, 1)

	taskC := wt3.Pods["u1"].DeleteTask
	if taskC == taskA {
		t.Error("Execute() reused a Create task for a Delete step")
	}
}

func TestExecute_DropsTasksNotInNewPlan(t *testing.T) {
	client := &fakeClient{}
	ctx := context.Background()

	plan := planner.Plan{Pods: map[core.UID]planner.PodStep{
		"u1": {Kind: planner.PodStepCreate, CreatePod: target.SandboxConfig{Name: "p", UID: "u1"}},
	}}
	wt1 := Execute(ctx, plan, New(), client, nil, time.Millisecond, silentLogger())
	waitForAtLeast(t, &client.createSandbox, 1)

	wt2 := Execute(ctx, planner.Plan{Pods: map[core.UID]planner.PodStep{}}, wt1, client, nil, time.Millisecond, silentLogger())

	if _, ok := wt2.Pods["u1"]; ok {
		t.Error("Execute() kept a pod task that was dropped from the plan")
	}
}

func TestExecute_ChangePodReusesPerContainer(t *testing.T) {
	client := &fakeClient{}
	ctx := context.Background()

	plan1 := planner.Plan{Pods: map[core.UID]planner.PodStep{
		"u1": {Kind: planner.PodStepChange, ChangePod: map[core.Name]planner.ContainerStep{
			"a": {Kind: planner.ContainerStepStart, CtrID: "ida"},
			"b": {Kind: planner.ContainerStepStop, CtrID: "idb"},
		}},
	}}
	wt1 := Execute(ctx, plan1, New(), client, nil, time.Millisecond, silentLogger())
	waitForAtLeast(t, &client.startCtr, 1)
	waitForAtLeast(t, &client.stopCtr, 1)

	taskA := wt1.Pods["u1"].ChangeTask["a"].Task

	// Second tick: "a" unchanged, "b" dropped, "c" new.
	plan2 := planner.Plan{Pods: map[core.UID]planner.PodStep{
		"u1": {Kind: planner.PodStepChange, ChangePod: map[core.Name]planner.ContainerStep{
			"a": {Kind: planner.ContainerStepStart, CtrID: "ida"},
			"c": {Kind: planner.ContainerStepDelete, CtrID: "idc"},
		}},
	}}
	wt2 := Execute(ctx, plan2, wt1, client, nil, time.Millisecond, silentLogger())
	waitForAtLeast(t, &client.removeCtr, 1)

	if wt2.Pods["u1"].ChangeTask["a"].Task != taskA {
		t.Error("Execute() did not reuse the unchanged container task")
	}
	if _, ok := wt2.Pods["u1"].ChangeTask["b"]; ok {
		t.Error("Execute() kept a container task dropped from the new step set")
	}
	if _, ok := wt2.Pods["u1"].ChangeTask["c"]; !ok {
		t.Error("Execute() did not spawn the new container task")
	}
}

func TestExecute_CreateCtrPullsBeforeCreating(t *testing.T) {
	client := &fakeClient{}
	ctx := context.Background()

	plan := planner.Plan{Pods: map[core.UID]planner.PodStep{
		"u1": {Kind: planner.PodStepChange, ChangePod: map[core.Name]planner.ContainerStep{
			"a": {
				Kind:          planner.ContainerStepCreate,
				CreatePod:     "p1",
				CreateCtr:     target.ContainerConfig{Name: "a", Image: "img:latest"},
				CreateSandbox: target.SandboxConfig{Name: "p", UID: "u1"},
			},
		}},
	}}
	Execute(ctx, plan, New(), client, nil, time.Millisecond, silentLogger())
	waitForAtLeast(t, &client.createCtr, 1)

	if atomic.LoadInt32(&client.pullImage) == 0 {
		t.Error("CreateCtr task never called PullImage")
	}
}
