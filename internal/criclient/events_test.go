package criclient

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/state"
)

func TestEventFromCRI_PodDeletion(t *testing.T) {
	resp := &runtimeapi.ContainerEventResponse{ContainerId: "p1"}

	got := eventFromCRI(resp)

	want := state.Event{ContainerID: "p1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("eventFromCRI() mismatch (-want +got):\n%s", diff)
	}
}

func TestEventFromCRI_PodCreation(t *testing.T) {
	resp := &runtimeapi.ContainerEventResponse{
		ContainerId: "p1",
		PodSandboxStatus: &runtimeapi.PodSandboxStatus{
			Id:       "p1",
			Metadata: &runtimeapi.PodSandboxMetadata{Uid: "u1"},
		},
	}

	got := eventFromCRI(resp)

	want := state.Event{
		ContainerID:   "p1",
		SandboxStatus: &state.SandboxInfo{ID: "p1", UID: "u1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("eventFromCRI() mismatch (-want +got):\n%s", diff)
	}
}

func TestEventFromCRI_ContainerState(t *testing.T) {
	resp := &runtimeapi.ContainerEventResponse{
		ContainerId: "cnew",
		PodSandboxStatus: &runtimeapi.PodSandboxStatus{
			Id:       "p1",
			Metadata: &runtimeapi.PodSandboxMetadata{Uid: "u1"},
		},
		ContainersStatuses: []*runtimeapi.ContainerStatus{
			{
				Id:       "cnew",
				Metadata: &runtimeapi.ContainerMetadata{Name: "app"},
				Labels:   map[string]string{ContainerLabelName: "app"},
				State:    runtimeapi.ContainerState_CONTAINER_RUNNING,
			},
		},
	}

	got := eventFromCRI(resp)

	want := state.Event{
		ContainerID:   "cnew",
		SandboxStatus: &state.SandboxInfo{ID: "p1", UID: "u1"},
		ContainerStatuses: []state.ContainerStatusInfo{
			{ID: "cnew", Name: "app", State: core.CtrRunning},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("eventFromCRI() mismatch (-want +got):\n%s", diff)
	}
}

func TestPodSnapshotFrom(t *testing.T) {
	got := podSnapshotFrom("p1", &runtimeapi.PodSandboxMetadata{Uid: "u1", Name: "web", Namespace: "default"})

	want := state.PodSnapshot{ID: "p1", UID: "u1", Name: "web", Namespace: "default"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("podSnapshotFrom() mismatch (-want +got):\n%s", diff)
	}
}
