// Package criruntime defines RuntimeClient, the single narrow capability
// surface the reconciliation core depends on (spec §1, §6). Everything
// else about the container runtime daemon — wire encoding, connection
// management, image pulling internals — lives behind this interface and is
// out of scope for the core. internal/criclient supplies the one concrete
// implementation, backed by the real k8s.io/cri-api gRPC contract.
package criruntime

import (
	"context"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/state"
	"github.com/groblegark/noderecon/internal/target"
)

// RuntimeClient is the capability set the core needs from the runtime
// daemon (spec §6). Implementations must be cheaply cloneable — the
// underlying transport multiplexes concurrent calls (spec §5) — since the
// worktree executor hands every task its own copy.
type RuntimeClient interface {
	ListPods(ctx context.Context) ([]state.PodSnapshot, error)
	ListContainers(ctx context.Context) ([]state.ContainerSnapshot, error)

	PullImage(ctx context.Context, image string) (string, error)
	CreateSandbox(ctx context.Context, cfg target.SandboxConfig) (core.PodId, error)
	CreateContainer(ctx context.Context, pod core.PodId, cfg target.ContainerConfig, sandbox target.SandboxConfig) (core.CtrId, error)
	StartContainer(ctx context.Context, id core.CtrId) error
	StopContainer(ctx context.Context, id core.CtrId) error
	RemoveContainer(ctx context.Context, id core.CtrId) error
	RemovePod(ctx context.Context, id core.PodId) error

	// GetContainerEvents opens the server-streaming container event
	// subscription. Callers receive one EventStream per call; the CRI
	// contract expects a single long-lived subscription per connection
	// (spec §5 — "subscribe once").
	GetContainerEvents(ctx context.Context) (EventStream, error)
}

// EventStream is a server-streaming source of container events. Recv
// returns io.EOF when the runtime signals end-of-stream.
type EventStream interface {
	Recv() (state.Event, error)
	Close() error
}
