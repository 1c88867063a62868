package targetsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/groblegark/noderecon/internal/core"
	"github.com/groblegark/noderecon/internal/target"
)

// NATSConfig configures a NATS-backed target source.
type NATSConfig struct {
	// URL is the NATS server URL (e.g. "nats://host:4222").
	URL string

	// Token is an optional auth token.
	Token string

	// ConsumerName is the durable JetStream consumer name, allowing crash
	// recovery and replay from the last acked deployment message.
	ConsumerName string

	// Subject is the JetStream subject carrying per-pod deployment
	// messages (one upsert or removal each), e.g. "deployments.<node>".
	Subject string
}

// podDesired mirrors the deployment-pipeline message shape: one full
// desired pod, published whenever a deployment changes it.
type podDesired struct {
	UID        string          `json:"uid"`
	Name       string          `json:"name"`
	Namespace  string          `json:"namespace"`
	Containers []containerSpec `json:"containers"`
	Removed    bool            `json:"removed"`
}

type containerSpec struct {
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	Command    []string          `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Privileged bool              `json:"privileged,omitempty"`
}

// NATS is a target.Source backed by a JetStream stream of per-pod
// deployment messages. It reconstructs a full Target in memory by applying
// each message as an upsert-or-remove against its running copy, then
// republishes the whole Target on every change — the same
// subscribe-with-durable-consumer-and-reconnect-backoff shape as the
// teacher's NATSWatcher, adapted from lifecycle events to full pod specs.
type NATS struct {
	cfg    NATSConfig
	out    chan target.Target
	logger *slog.Logger

	known target.Target
}

// NewNATS constructs a NATS target source.
func NewNATS(cfg NATSConfig, logger *slog.Logger) *NATS {
	return &NATS{
		cfg:    cfg,
		out:    make(chan target.Target, 1),
		logger: logger,
		known:  target.New(),
	}
}

// Watch begins the reconnect-with-backoff subscription loop in the
// background and returns the snapshot channel immediately.
func (n *NATS) Watch(ctx context.Context) (<-chan target.Target, error) {
	go n.run(ctx)
	return n.out, nil
}

func (n *NATS) run(ctx context.Context) {
	defer close(n.out)

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := n.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn("JetStream subscription error, reconnecting",
				"error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = time.Second
		}
	}
}

func (n *NATS) subscribe(ctx context.Context) error {
	opts := []nats.Option{nats.Name("noderecon")}
	if n.cfg.Token != "" {
		opts = append(opts, nats.Token(n.cfg.Token))
	}

	nc, err := nats.Connect(n.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("NATS connect: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("JetStream context: %w", err)
	}

	consumerName := n.cfg.ConsumerName
	if consumerName == "" {
		consumerName = "noderecon"
	}

	sub, err := js.PullSubscribe(n.cfg.Subject, consumerName, nats.AckExplicit(), nats.DeliverAll())
	if err != nil {
		return fmt.Errorf("JetStream subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	n.logger.Info("JetStream target subscription active", "subject", n.cfg.Subject, "consumer", consumerName)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("JetStream fetch: %w", err)
		}

		for _, msg := range msgs {
			n.processMessage(msg)
			if err := msg.Ack(); err != nil {
				n.logger.Warn("failed to ack JetStream message", "error", err)
			}
		}

		send(ctx, n.out, n.known.Clone())
	}
}

func (n *NATS) processMessage(msg *nats.Msg) {
	var desired podDesired
	if err := json.Unmarshal(msg.Data, &desired); err != nil {
		n.logger.Debug("skipping malformed target message", "error", err)
		return
	}

	uid := core.UID(desired.UID)
	if desired.Removed {
		delete(n.known.Pods, uid)
		return
	}

	containers := make(map[core.Name]target.ContainerConfig, len(desired.Containers))
	for _, c := range desired.Containers {
		containers[core.Name(c.Name)] = target.ContainerConfig{
			Name:       core.Name(c.Name),
			Image:      c.Image,
			Command:    c.Command,
			Args:       c.Args,
			WorkingDir: c.WorkingDir,
			Envs:       c.Env,
			Privileged: c.Privileged,
		}
	}

	n.known.Pods[uid] = target.PodConfig{
		Config: target.SandboxConfig{
			Name:      desired.Name,
			UID:       uid,
			Namespace: desired.Namespace,
		},
		Containers: containers,
	}
}
