package besteffort

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// syncBuffer はゴルーチンから安全に書き込めるbytes.Buffer。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// mockMetrics はタスク失敗の記録だけを数えるMetricsCollector。
type mockMetrics struct {
	mu    sync.Mutex
	tasks []string
}

func (m *mockMetrics) RecordAPIResponse(int)          {}
func (m *mockMetrics) RecordAPIFailure(string)        {}
func (m *mockMetrics) RecordAPILatency(time.Duration) {}
func (m *mockMetrics) RecordTokenFailure()            {}
func (m *mockMetrics) RecordTaskFailure(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

func TestRunner_RunsTask(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(newTestLogger(&buf), nil, 0)

	var ran atomic.Bool
	r.Go(context.Background(), "noop", func(context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !ran.Load() {
		t.Error("task did not run")
	}
}

func TestRunner_FailureIsLoggedAndCountedNotPropagated(t *testing.T) {
	buf := &syncBuffer{}
	m := &mockMetrics{}
	r := NewRunner(slog.New(slog.NewJSONHandler(buf, nil)), m, 1)

	r.Go(context.Background(), "sync_user", func(context.Context) error {
		return errors.New("backend unavailable")
	})
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "best-effort task failed") || !strings.Contains(out, "backend unavailable") {
		t.Errorf("failure should be logged, got %s", out)
	}
	if len(m.tasks) != 1 || m.tasks[0] != "sync_user" {
		t.Errorf("recorded task failures = %v, want [sync_user]", m.tasks)
	}
}

func TestRunner_PanicIsRecovered(t *testing.T) {
	buf := &syncBuffer{}
	m := &mockMetrics{}
	r := NewRunner(slog.New(slog.NewJSONHandler(buf, nil)), m, 1)

	r.Go(context.Background(), "mirror", func(context.Context) error {
		panic("boom")
	})
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "panic: boom") {
		t.Errorf("panic should be logged, got %s", buf.String())
	}
}

func TestRunner_TaskOutlivesCallerCancellation(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(newTestLogger(&buf), nil, 1)

	type ctxKey struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	release := make(chan struct{})

	var gotErr error
	var gotValue interface{}
	r.Go(ctx, "detached", func(taskCtx context.Context) error {
		<-release
		gotErr = taskCtx.Err()
		gotValue = taskCtx.Value(ctxKey{})
		return nil
	})

	cancel()
	close(release)
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	if gotErr != nil {
		t.Errorf("task context should not be cancelled, got %v", gotErr)
	}
	if gotValue != "v" {
		t.Errorf("context value = %v, want v", gotValue)
	}
}

func TestRunner_LimitsConcurrency(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(newTestLogger(&buf), nil, 2)

	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		r.Go(context.Background(), "work", func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestRunner_WaitHonoursContext(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(newTestLogger(&buf), nil, 1)
	release := make(chan struct{})
	defer close(release)

	r.Go(context.Background(), "slow", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}
