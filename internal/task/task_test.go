package task

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"io"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTask_SucceedsOnFirstAttempt(t *testing.T) {
	var attempts int32
	done := make(chan struct{})
	tk := New(func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		close(done)
		return nil
	}, Always, time.Millisecond, silentLogger())
	defer tk.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	tk.Wait()

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestTask_RetriesOnFailureUnderAlways(t *testing.T) {
	var attempts int32
	tk := New(func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("transient failure")
		}
		return nil
	}, Always, time.Millisecond, silentLogger())

	tk.Wait()
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestTask_NeverMeansOneAttempt(t *testing.T) {
	var attempts int32
	tk := New(func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("always fails")
	}, Never, time.Millisecond, silentLogger())

	tk.Wait()
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestTask_MaxAttemptsStopsAtCap(t *testing.T) {
	var attempts int32
	tk := New(func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("always fails")
	}, MaxAttempts(3), time.Millisecond, silentLogger())

	tk.Wait()
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

// I5: dropping (cancelling) a Task guarantees eventual cancellation.
func TestTask_CancelStopsSupervisorPromptly(t *testing.T) {
	started := make(chan struct{}, 1)
	blockCtx, unblock := context.WithCancel(context.Background())
	defer unblock()

	tk := New(func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}, Always, time.Millisecond, silentLogger())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}

	tk.Cancel()

	done := make(chan struct{})
	go func() {
		tk.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not terminate within bound after Cancel")
	}
	_ = blockCtx
}

// Panics inside the factory must be caught and counted as a failed attempt.
func TestTask_PanicRecoveredAsFailedAttempt(t *testing.T) {
	var attempts int32
	tk := New(func(ctx context.Context) error {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			panic("boom")
		}
		return nil
	}, Always, time.Millisecond, silentLogger())

	tk.Wait()
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2 (one panic + one success)", got)
	}
}
