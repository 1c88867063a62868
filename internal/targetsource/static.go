// Package targetsource supplies the target.Source implementations this
// repo ships: a fixed-Target stub for testing and single-node bring-up, a
// Kubernetes Pod-informer source for cluster-scheduled nodes, and a NATS
// JetStream source for event-driven deployment pipelines (SPEC_FULL §4
// enrichment).
package targetsource

import (
	"context"

	"github.com/groblegark/noderecon/internal/target"
)

// Static is a target.Source that emits one fixed Target and never changes
// it again. Useful for local development and tests where desired state is
// read once from a config file or flag rather than watched.
type Static struct {
	tgt target.Target
}

// NewStatic wraps tgt as a Source.
func NewStatic(tgt target.Target) *Static {
	return &Static{tgt: tgt}
}

// Watch emits tgt once and leaves the channel open, unclosed, until ctx is
// canceled.
func (s *Static) Watch(ctx context.Context) (<-chan target.Target, error) {
	ch := make(chan target.Target, 1)
	ch <- s.tgt.Clone()
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
