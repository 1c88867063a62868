// Package controlloop wires State, Target, Planner and WorkTree into the
// steady-state reconciliation loop (spec §4.6, §5): seed State from a
// synchronous list+ingest, then loop forever reacting to streamed events,
// target changes and a periodic re-list tick, recomputing the plan and
// executing it after every input.
package controlloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/groblegark/noderecon/internal/criruntime"
	"github.com/groblegark/noderecon/internal/eventsreader"
	"github.com/groblegark/noderecon/internal/planner"
	"github.com/groblegark/noderecon/internal/state"
	"github.com/groblegark/noderecon/internal/target"
	"github.com/groblegark/noderecon/internal/worktree"
)

// Config holds the loop's tunable intervals (spec §6 process constants).
type Config struct {
	StateRefreshInterval time.Duration // STATE_REFRESH_INTERVAL, default 20s
	EventsBufferMax      int           // EVENTS_BUFFER_MAX, default 100
	EventsFlushInterval  time.Duration // EVENTS_FLUSH_INTERVAL, default 4s
	EventsRetryInterval  time.Duration // EVENTS_RETRY_INTERVAL, default 5s
	CRIRetryInterval     time.Duration // CRI_RETRY_INTERVAL, default 200ms
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		StateRefreshInterval: 20 * time.Second,
		EventsBufferMax:      100,
		EventsFlushInterval:  4 * time.Second,
		EventsRetryInterval:  5 * time.Second,
		CRIRetryInterval:     worktree.DefaultRetryInterval,
	}
}

// Loop is the running reconciliation engine. It owns State and WorkTree
// exclusively: nothing outside the goroutine running Run mutates them
// (spec §9). Snapshot exposes a point-in-time clone for the read-only
// status introspection endpoint.
type Loop struct {
	client criruntime.RuntimeClient
	source target.Source
	cfg    Config
	logger *slog.Logger
	puller worktree.ImagePuller

	snapshotCh chan chan *state.State
}

// New constructs a Loop. puller may be nil (always pull, spec §4.4 default).
func New(client criruntime.RuntimeClient, source target.Source, cfg Config, puller worktree.ImagePuller, logger *slog.Logger) *Loop {
	return &Loop{
		client:     client,
		source:     source,
		cfg:        cfg,
		logger:     logger,
		puller:     puller,
		snapshotCh: make(chan chan *state.State),
	}
}

// Snapshot requests a read-only clone of the loop's current State. It must
// be called from outside Run's goroutine; it blocks until Run services the
// request or ctx is canceled.
func (l *Loop) Snapshot(ctx context.Context) (*state.State, error) {
	reply := make(chan *state.State, 1)
	select {
	case l.snapshotCh <- reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run seeds State synchronously, then reconciles forever until ctx is
// canceled, at which point every in-flight task is cancelled (P6) before
// Run returns.
func (l *Loop) Run(ctx context.Context) error {
	st := state.New()
	if err := l.seed(ctx, st); err != nil {
		return fmt.Errorf("seeding initial state: %w", err)
	}

	targetCh, err := l.source.Watch(ctx)
	if err != nil {
		return fmt.Errorf("starting target source: %w", err)
	}

	readerCfg := eventsreader.Config{
		FlushInterval: l.cfg.EventsFlushInterval,
		RetryInterval: l.cfg.EventsRetryInterval,
	}
	reader := eventsreader.New(l.client, readerCfg, l.cfg.EventsBufferMax, l.logger)
	go reader.Run(ctx)

	ticker := time.NewTicker(l.cfg.StateRefreshInterval)
	defer ticker.Stop()

	tgt := target.New()
	wt := worktree.New()
	defer func() { worktree.CancelAll(wt) }()

	reconcile := func() {
		plan := planner.Diff(tgt, st)
		wt = worktree.Execute(ctx, plan, wt, l.client, l.puller, l.cfg.CRIRetryInterval, l.logger)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case newTgt, ok := <-targetCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("target source closed unexpectedly")
			}
			tgt = newTgt
			reconcile()

		case batch, ok := <-reader.Batches():
			if !ok {
				return fmt.Errorf("events reader closed unexpectedly")
			}
			for _, ev := range batch {
				st.Observe(ev, l.logger)
			}
			reconcile()

		case <-ticker.C:
			if err := l.seed(ctx, st); err != nil {
				l.logger.Warn("periodic state refresh failed", "error", err)
				continue
			}
			reconcile()

		case reply := <-l.snapshotCh:
			reply <- st.Clone()
		}
	}
}

func (l *Loop) seed(ctx context.Context, st *state.State) error {
	pods, err := l.client.ListPods(ctx)
	if err != nil {
		return fmt.Errorf("list_pods: %w", err)
	}
	containers, err := l.client.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("list_containers: %w", err)
	}
	st.Ingest(containers, pods, l.logger)
	return nil
}
