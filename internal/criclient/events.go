package criclient

import (
	"context"
	"fmt"

	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/criruntime"
	"github.com/groblegark/noderecon/internal/state"
)

// GetContainerEvents opens the CRI server-streaming event subscription
// (spec §6). One Client should subscribe at most once at a time, per the
// events reader protocol in spec §5.
func (c *Client) GetContainerEvents(ctx context.Context) (criruntime.EventStream, error) {
	stream, err := c.rt.GetContainerEvents(ctx, &runtimeapi.GetEventsRequest{})
	if err != nil {
		return nil, fmt.Errorf("get_container_events: %w", err)
	}
	return &eventStream{stream: stream}, nil
}

// streamClient is the minimal surface of
// runtimeapi.RuntimeService_GetContainerEventsClient this package needs,
// narrowed for testability.
type streamClient interface {
	Recv() (*runtimeapi.ContainerEventResponse, error)
}

type eventStream struct {
	stream streamClient
}

func (e *eventStream) Recv() (state.Event, error) {
	resp, err := e.stream.Recv()
	if err != nil {
		return state.Event{}, err
	}
	return eventFromCRI(resp), nil
}

func (e *eventStream) Close() error {
	return nil
}

func eventFromCRI(resp *runtimeapi.ContainerEventResponse) state.Event {
	ev := state.Event{ContainerID: resp.ContainerId}

	if resp.PodSandboxStatus != nil {
		sb := &state.SandboxInfo{ID: core.PodId(resp.PodSandboxStatus.Id)}
		if resp.PodSandboxStatus.Metadata != nil {
			sb.UID = core.UID(resp.PodSandboxStatus.Metadata.Uid)
		}
		ev.SandboxStatus = sb
	}

	for _, cs := range resp.ContainersStatuses {
		entry := state.ContainerStatusInfo{
			ID:    core.CtrId(cs.Id),
			State: core.CtrStateFromCRI(int32(cs.State)),
		}
		if cs.Metadata != nil {
			entry.Name = core.Name(cs.Labels[ContainerLabelName])
			if entry.Name == "" {
				entry.Name = core.Name(cs.Metadata.Name)
			}
		}
		ev.ContainerStatuses = append(ev.ContainerStatuses, entry)
	}

	return ev
}
