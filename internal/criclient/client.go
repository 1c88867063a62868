// Package criclient is the one concrete implementation of
// criruntime.RuntimeClient, backed by the real CRI gRPC contract
// (k8s.io/cri-api/pkg/apis/runtime/v1) that containerd, CRI-O and friends
// speak. It is the only place in this repo that imports the CRI wire
// types — translating them to and from the core's plain data types so the
// rest of the reconciliation engine never has to (spec §1, §6).
package criclient

import (
	"context"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/state"
	"github.com/groblegark/noderecon/internal/target"
)

// ContainerLabelName is the container label carrying the pod-scoped
// container name — the fragile identity convention spec §9 flags but
// requires us to keep for collaborator compatibility.
const ContainerLabelName = "name"

// Client wraps a shared gRPC connection to the runtime's CRI socket. It is
// cheap to copy by value: every field is a client stub over the same
// *grpc.ClientConn, matching spec §5's "cheaply cloneable" requirement.
type Client struct {
	conn *grpc.ClientConn
	rt   runtimeapi.RuntimeServiceClient
	img  runtimeapi.ImageServiceClient
}

// Dial connects to the CRI unix socket at endpoint (e.g.
// "unix:///run/containerd/containerd.sock").
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	sockAddr := strings.TrimPrefix(endpoint, "unix://")
	conn, err := grpc.NewClient("unix:"+sockAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", strings.TrimPrefix(addr, "unix:"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing CRI endpoint %s: %w", endpoint, err)
	}
	return &Client{
		conn: conn,
		rt:   runtimeapi.NewRuntimeServiceClient(conn),
		img:  runtimeapi.NewImageServiceClient(conn),
	}, nil
}

// Close closes the underlying connection. Only the owner that dialed
// should call this — clones share the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) ListPods(ctx context.Context) ([]state.PodSnapshot, error) {
	resp, err := c.rt.ListPodSandbox(ctx, &runtimeapi.ListPodSandboxRequest{})
	if err != nil {
		return nil, fmt.Errorf("list_pods: %w", err)
	}
	out := make([]state.PodSnapshot, 0, len(resp.Items))
	for _, p := range resp.Items {
		out = append(out, podSnapshotFrom(p.Id, p.Metadata))
	}
	return out, nil
}

func podSnapshotFrom(id string, md *runtimeapi.PodSandboxMetadata) state.PodSnapshot {
	snap := state.PodSnapshot{ID: core.PodId(id)}
	if md != nil {
		snap.UID = core.UID(md.Uid)
		snap.Name = md.Name
		snap.Namespace = md.Namespace
	}
	return snap
}

func (c *Client) ListContainers(ctx context.Context) ([]state.ContainerSnapshot, error) {
	resp, err := c.rt.ListContainers(ctx, &runtimeapi.ListContainersRequest{})
	if err != nil {
		return nil, fmt.Errorf("list_containers: %w", err)
	}
	out := make([]state.ContainerSnapshot, 0, len(resp.Containers))
	for _, ctr := range resp.Containers {
		out = append(out, state.ContainerSnapshot{
			ID:           core.CtrId(ctr.Id),
			PodSandboxID: core.PodId(ctr.PodSandboxId),
			Name:         core.Name(ctr.Labels[ContainerLabelName]),
			State:        core.CtrStateFromCRI(int32(ctr.State)),
		})
	}
	return out, nil
}

func (c *Client) PullImage(ctx context.Context, image string) (string, error) {
	resp, err := c.img.PullImage(ctx, &runtimeapi.PullImageRequest{
		Image: &runtimeapi.ImageSpec{Image: image},
	})
	if err != nil {
		return "", fmt.Errorf("pull_image %s: %w", image, err)
	}
	return resp.ImageRef, nil
}

func (c *Client) CreateSandbox(ctx context.Context, cfg target.SandboxConfig) (core.PodId, error) {
	resp, err := c.rt.RunPodSandbox(ctx, &runtimeapi.RunPodSandboxRequest{
		Config: sandboxConfigToCRI(cfg),
	})
	if err != nil {
		return "", fmt.Errorf("create_sandbox %s: %w", cfg.Name, err)
	}
	return core.PodId(resp.PodSandboxId), nil
}

func sandboxConfigToCRI(cfg target.SandboxConfig) *runtimeapi.PodSandboxConfig {
	return &runtimeapi.PodSandboxConfig{
		Metadata: &runtimeapi.PodSandboxMetadata{
			Name:      cfg.Name,
			Uid:       string(cfg.UID),
			Namespace: cfg.Namespace,
		},
		Labels:       map[string]string{ContainerLabelName: cfg.Name},
		LogDirectory: fmt.Sprintf("/var/log/pods/%s", cfg.Name),
		Linux: &runtimeapi.LinuxPodSandboxConfig{
			SecurityContext: &runtimeapi.LinuxSandboxSecurityContext{
				NamespaceOptions: &runtimeapi.NamespaceOption{
					Network: runtimeapi.NamespaceMode_NODE,
				},
			},
		},
	}
}

func (c *Client) CreateContainer(ctx context.Context, pod core.PodId, cfg target.ContainerConfig, sandbox target.SandboxConfig) (core.CtrId, error) {
	resp, err := c.rt.CreateContainer(ctx, &runtimeapi.CreateContainerRequest{
		PodSandboxId:  string(pod),
		Config:        containerConfigToCRI(cfg),
		SandboxConfig: sandboxConfigToCRI(sandbox),
	})
	if err != nil {
		return "", fmt.Errorf("create_container %s: %w", cfg.Name, err)
	}
	return core.CtrId(resp.ContainerId), nil
}

func containerConfigToCRI(cfg target.ContainerConfig) *runtimeapi.ContainerConfig {
	envs := make([]*runtimeapi.KeyValue, 0, len(cfg.Envs))
	for k, v := range cfg.Envs {
		envs = append(envs, &runtimeapi.KeyValue{Key: k, Value: v})
	}
	return &runtimeapi.ContainerConfig{
		Metadata:   &runtimeapi.ContainerMetadata{Name: string(cfg.Name)},
		Image:      &runtimeapi.ImageSpec{Image: cfg.Image},
		Command:    cfg.Command,
		Args:       cfg.Args,
		WorkingDir: cfg.WorkingDir,
		Envs:       envs,
		Labels:     map[string]string{ContainerLabelName: string(cfg.Name)},
		LogPath:    fmt.Sprintf("%s-id.log", cfg.Name),
		Linux: &runtimeapi.LinuxContainerConfig{
			SecurityContext: &runtimeapi.LinuxContainerSecurityContext{
				Privileged: cfg.Privileged,
			},
		},
	}
}

func (c *Client) StartContainer(ctx context.Context, id core.CtrId) error {
	_, err := c.rt.StartContainer(ctx, &runtimeapi.StartContainerRequest{ContainerId: string(id)})
	if err != nil {
		return fmt.Errorf("start_container %s: %w", id, err)
	}
	return nil
}

func (c *Client) StopContainer(ctx context.Context, id core.CtrId) error {
	_, err := c.rt.StopContainer(ctx, &runtimeapi.StopContainerRequest{
		ContainerId: string(id),
		Timeout:     0, // spec §6: timeout=0 means "ask runtime to stop immediately"
	})
	if err != nil {
		return fmt.Errorf("stop_container %s: %w", id, err)
	}
	return nil
}

func (c *Client) RemoveContainer(ctx context.Context, id core.CtrId) error {
	_, err := c.rt.RemoveContainer(ctx, &runtimeapi.RemoveContainerRequest{ContainerId: string(id)})
	if err != nil {
		return fmt.Errorf("remove_container %s: %w", id, err)
	}
	return nil
}

func (c *Client) RemovePod(ctx context.Context, id core.PodId) error {
	_, err := c.rt.RemovePodSandbox(ctx, &runtimeapi.RemovePodSandboxRequest{PodSandboxId: string(id)})
	if err != nil {
		return fmt.Errorf("remove_pod %s: %w", id, err)
	}
	return nil
}
