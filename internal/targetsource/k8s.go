package targetsource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	corev1listers "k8s.io/client-go/listers/core/v1"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/util/workqueue"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/target"
)

// Pod label keys this source reads to recover per-container privileges that
// corev1.Pod does not carry as plain target.ContainerConfig fields.
const (
	labelPrivileged = "noderecon.io/privileged"
)

// K8s watches the subset of Kubernetes Pods scheduled to one node (via a
// spec.nodeName field selector) and translates them into Target snapshots.
// It follows the informer/lister/workqueue shape of virtual-kubelet's
// PodController: the informer only tells us something changed, a
// rate-limiting workqueue debounces bursts of events, and the worker
// rebuilds the desired Target from the lister's cache rather than the raw
// event object — so a Target always reflects one consistent list snapshot.
type K8s struct {
	client       kubernetes.Interface
	nodeName     string
	namespace    string
	resyncPeriod time.Duration
	logger       *slog.Logger
}

// NewK8s constructs a K8s target source. namespace may be "" to watch
// every namespace. resyncPeriod is TARGET_REFRESH_INTERVAL (spec §6): how
// often the shared informer re-lists the API server as a correctness
// backstop against a missed watch event, independent of the debounced
// per-change rebuilds driven by the informer's event handlers.
func NewK8s(client kubernetes.Interface, nodeName, namespace string, resyncPeriod time.Duration, logger *slog.Logger) *K8s {
	return &K8s{client: client, nodeName: nodeName, namespace: namespace, resyncPeriod: resyncPeriod, logger: logger}
}

// Watch starts the pod informer and emits a fresh Target snapshot every
// time the set of pods scheduled to this node changes.
func (k *K8s) Watch(ctx context.Context) (<-chan target.Target, error) {
	factory := informers.NewSharedInformerFactoryWithOptions(
		k.client,
		k.resyncPeriod,
		informers.WithNamespace(k.namespace),
		informers.WithTweakListOptions(func(opts *metav1.ListOptions) {
			opts.FieldSelector = fields.OneTermEqualSelector("spec.nodeName", k.nodeName).String()
		}),
	)
	podInformer := factory.Core().V1().Pods()
	lister := podInformer.Lister()

	q := workqueue.NewRateLimitingQueue(workqueue.DefaultControllerRateLimiter())

	enqueue := func(interface{}) { q.Add(struct{}{}) }
	podInformer.Informer().AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    enqueue,
		UpdateFunc: func(_, _ interface{}) { q.Add(struct{}{}) },
		DeleteFunc: enqueue,
	})

	factory.Start(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), podInformer.Informer().HasSynced) {
		return nil, fmt.Errorf("k8s target source: cache did not sync")
	}

	out := make(chan target.Target, 1)

	go func() {
		defer q.ShutDown()
		<-ctx.Done()
	}()

	go k.run(ctx, q, lister, out)

	// Emit the initial snapshot immediately rather than waiting for the
	// first informer event.
	q.Add(struct{}{})

	return out, nil
}

func (k *K8s) run(ctx context.Context, q workqueue.RateLimitingInterface, lister corev1listers.PodLister, out chan<- target.Target) {
	defer close(out)
	for {
		item, shutdown := q.Get()
		if shutdown {
			return
		}
		func() {
			defer q.Done(item)
			tgt, err := k.buildTarget(lister)
			if err != nil {
				k.logger.Warn("k8s target source: rebuilding target failed", "error", err)
				q.AddRateLimited(item)
				return
			}
			q.Forget(item)
			send(ctx, out, tgt)
		}()
	}
}

// send delivers tgt as the latest snapshot, dropping a stale unread value
// if the consumer has fallen behind (spec §5: "the latest value only").
func send(ctx context.Context, out chan<- target.Target, tgt target.Target) {
	select {
	case <-out:
	default:
	}
	select {
	case out <- tgt:
	case <-ctx.Done():
	}
}

func (k *K8s) buildTarget(lister corev1listers.PodLister) (target.Target, error) {
	pods, err := lister.List(labels.Everything())
	if err != nil {
		return target.Target{}, fmt.Errorf("listing pods: %w", err)
	}

	tgt := target.New()
	for _, pod := range pods {
		tgt.Pods[core.UID(pod.UID)] = podConfigFromK8s(pod)
	}
	return tgt, nil
}

func podConfigFromK8s(pod *corev1.Pod) target.PodConfig {
	containers := make(map[core.Name]target.ContainerConfig, len(pod.Spec.Containers))
	for _, c := range pod.Spec.Containers {
		envs := make(map[string]string, len(c.Env))
		for _, e := range c.Env {
			envs[e.Name] = e.Value
		}
		privileged := pod.Labels[labelPrivileged] == "true"
		if c.SecurityContext != nil && c.SecurityContext.Privileged != nil {
			privileged = *c.SecurityContext.Privileged
		}
		containers[core.Name(c.Name)] = target.ContainerConfig{
			Name:       core.Name(c.Name),
			Image:      c.Image,
			Command:    c.Command,
			Args:       c.Args,
			WorkingDir: c.WorkingDir,
			Envs:       envs,
			Privileged: privileged,
		}
	}

	return target.PodConfig{
		Config: target.SandboxConfig{
			Name:      pod.Name,
			UID:       core.UID(pod.UID),
			Namespace: pod.Namespace,
		},
		Containers: containers,
	}
}
