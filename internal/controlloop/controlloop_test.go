package controlloop

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/criruntime"
	"github.com/groblegark/noderecon/internal/state"
	"github.com/groblegark/noderecon/internal/target"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClient struct {
	createSandbox int32
}

func (f *fakeClient) ListPods(ctx context.Context) ([]state.PodSnapshot, error)             { return nil, nil }
func (f *fakeClient) ListContainers(ctx context.Context) ([]state.ContainerSnapshot, error) { return nil, nil }
func (f *fakeClient) PullImage(ctx context.Context, image string) (string, error)            { return image, nil }
func (f *fakeClient) CreateSandbox(ctx context.Context, cfg target.SandboxConfig) (core.PodId, error) {
	atomic.AddInt32(&f.createSandbox, 1)
	<-ctx.Done()
	return "", ctx.Err()
}
func (f *fakeClient) CreateContainer(ctx context.Context, pod core.PodId, cfg target.ContainerConfig, sandbox target.SandboxConfig) (core.CtrId, error) {
	return "", nil
}
func (f *fakeClient) StartContainer(ctx context.Context, id core.CtrId) error  { return nil }
func (f *fakeClient) StopContainer(ctx context.Context, id core.CtrId) error   { return nil }
func (f *fakeClient) RemoveContainer(ctx context.Context, id core.CtrId) error { return nil }
func (f *fakeClient) RemovePod(ctx context.Context, id core.PodId) error       { return nil }
func (f *fakeClient) GetContainerEvents(ctx context.Context) (criruntime.EventStream, error) {
	return blockingStream{ctx: ctx}, nil
}

// blockingStream never delivers an event until ctx is canceled, simulating
// an idle CRI event subscription.
type blockingStream struct{ ctx context.Context }

func (b blockingStream) Recv() (state.Event, error) {
	<-b.ctx.Done()
	return state.Event{}, b.ctx.Err()
}
func (b blockingStream) Close() error { return nil }

type staticSource struct {
	tgt target.Target
}

func (s staticSource) Watch(ctx context.Context) (<-chan target.Target, error) {
	ch := make(chan target.Target, 1)
	ch <- s.tgt
	return ch, nil
}

func TestLoop_SeedsStateThenReconciles(t *testing.T) {
	client := &fakeClient{}
	tgt := target.New()
	tgt.Pods["u1"] = target.PodConfig{Config: target.SandboxConfig{Name: "p", UID: "u1"}, Containers: map[core.Name]target.ContainerConfig{}}

	cfg := DefaultConfig()
	cfg.StateRefreshInterval = time.Hour
	loop := New(client, staticSource{tgt: tgt}, cfg, nil, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&client.createSandbox) == 0 {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&client.createSandbox) == 0 {
		t.Fatal("loop never reconciled the target into a CreateSandbox call")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error after cancel: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestLoop_SnapshotReturnsCurrentState(t *testing.T) {
	client := &fakeClient{}
	cfg := DefaultConfig()
	cfg.StateRefreshInterval = time.Hour
	loop := New(client, staticSource{tgt: target.New()}, cfg, nil, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	st, err := loop.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Pods == nil {
		t.Error("Snapshot() returned a state with a nil Pods map")
	}
}
