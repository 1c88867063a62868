// Package target holds the desired-state value types (spec §3, §4.2):
// Target, PodConfig, SandboxConfig and ContainerConfig, plus the Source
// interface the control loop uses to receive them. These are passive value
// types — nothing in this package mutates them in place; producers publish
// full replacements and consumers treat what they receive as immutable.
package target

import (
	"context"

	"github.com/groblegark/noderecon/internal/core"
)

// ResourceLimits is the optional resource-limit portion of a SandboxConfig
// (spec §3). A zero value means "no limit requested".
type ResourceLimits struct {
	CPUMillis int64
	MemoryMB  int64
}

// SandboxConfig describes the pod sandbox to create (spec §3, §6).
type SandboxConfig struct {
	Name      string
	UID       core.UID
	Namespace string
	Resources *ResourceLimits
}

// ContainerConfig describes one container to create within a pod (spec §3).
type ContainerConfig struct {
	Name       core.Name
	Image      string
	Command    []string
	Args       []string
	WorkingDir string
	Envs       map[string]string
	Privileged bool
}

// PodConfig is the desired sandbox plus its named containers (spec §3).
type PodConfig struct {
	Config     SandboxConfig
	Containers map[core.Name]ContainerConfig
}

// Target is the full desired state: every pod this node should be running,
// keyed by cluster UID (spec §3, §4.2). Producers replace it atomically;
// consumers receive it as an immutable snapshot.
type Target struct {
	Pods map[core.UID]PodConfig
}

// New returns an empty Target.
func New() Target {
	return Target{Pods: make(map[core.UID]PodConfig)}
}

// Clone returns a deep-enough copy of t suitable for handing to a consumer
// while the producer keeps mutating its own working copy (spec §4.2, §9 —
// producers publish full replacements, never share the mutable original).
func (t Target) Clone() Target {
	out := New()
	for uid, pc := range t.Pods {
		containers := make(map[core.Name]ContainerConfig, len(pc.Containers))
		for name, cc := range pc.Containers {
			envs := make(map[string]string, len(cc.Envs))
			for k, v := range cc.Envs {
				envs[k] = v
			}
			cc.Envs = envs
			containers[name] = cc
		}
		pc.Containers = containers
		out.Pods[uid] = pc
	}
	return out
}

// Source is the minimal capability the control loop needs from an external
// target producer (spec §1, §4.2): a watch-style channel of full Target
// replacements, latest-value-only — a slow consumer sees only the most
// recent snapshot (spec §5).
type Source interface {
	Watch(ctx context.Context) (<-chan Target, error)
}
