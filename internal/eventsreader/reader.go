// Package eventsreader implements the events reader protocol from spec §5:
// subscribe once to GetContainerEvents, accumulate messages into a batch,
// flush the batch when either EVENTS_FLUSH_INTERVAL elapses or the stream
// signals end-of-stream, and on stream error sleep EVENTS_RETRY_INTERVAL
// and re-subscribe. The reconnect-with-backoff shape mirrors the teacher's
// NATSWatcher.Start/subscribe split.
package eventsreader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/groblegark/noderecon/internal/criruntime"
	"github.com/groblegark/noderecon/internal/state"
)

// Config holds the reader's tunable intervals (spec §6 process constants).
type Config struct {
	FlushInterval time.Duration // EVENTS_FLUSH_INTERVAL, default 4s
	RetryInterval time.Duration // EVENTS_RETRY_INTERVAL, default 5s
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 4 * time.Second,
		RetryInterval: 5 * time.Second,
	}
}

// Reader subscribes to the runtime's container event stream and emits
// batches of state.Event on a bounded channel for the control loop to
// apply. The channel is bounded-blocking on the producer side (spec §4.6)
// — a full channel stalls the reader rather than dropping a batch; the
// periodic re-list tick corrects any gap this causes.
type Reader struct {
	client criruntime.RuntimeClient
	cfg    Config
	out    chan []state.Event
	logger *slog.Logger
}

// New creates a Reader. bufferMax is EVENTS_BUFFER_MAX (spec §6).
func New(client criruntime.RuntimeClient, cfg Config, bufferMax int, logger *slog.Logger) *Reader {
	return &Reader{
		client: client,
		cfg:    cfg,
		out:    make(chan []state.Event, bufferMax),
		logger: logger,
	}
}

// Batches returns the channel of flushed event batches.
func (r *Reader) Batches() <-chan []state.Event {
	return r.out
}

// Run subscribes and reads until ctx is canceled. On a stream error it
// sleeps RetryInterval and re-subscribes, matching spec §5.
func (r *Reader) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.subscribeAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("container event stream error, resubscribing", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.RetryInterval):
			}
		}
	}
}

func (r *Reader) subscribeAndRead(ctx context.Context) error {
	stream, err := r.client.GetContainerEvents(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	var batch []state.Event
	flushTimer := time.NewTimer(r.cfg.FlushInterval)
	defer flushTimer.Stop()

	recvCh := make(chan recvResult, 1)
	go recvLoop(stream, recvCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-recvCh:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					r.flush(ctx, batch)
					return nil
				}
				r.flush(ctx, batch)
				return res.err
			}
			batch = append(batch, res.event)
			go recvLoop(stream, recvCh)
		case <-flushTimer.C:
			r.flush(ctx, batch)
			batch = nil
			flushTimer.Reset(r.cfg.FlushInterval)
		}
	}
}

type recvResult struct {
	event state.Event
	err   error
}

func recvLoop(stream criruntime.EventStream, out chan<- recvResult) {
	ev, err := stream.Recv()
	out <- recvResult{event: ev, err: err}
}

func (r *Reader) flush(ctx context.Context, batch []state.Event) {
	if len(batch) == 0 {
		return
	}
	select {
	case r.out <- batch:
	case <-ctx.Done():
	}
}
