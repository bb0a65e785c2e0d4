package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/jobboard/internal/model"
)

// newSlowRuntime はレスポンスをdelayだけ遅らせるバックエンドに接続したRuntimeを返す。
func newSlowRuntime(t *testing.T, delay time.Duration) *Runtime {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"1","title":"Go Engineer"}]`)
	}))
	t.Cleanup(backend.Close)

	setTestEnv(t, backend.URL, "")
	var buf bytes.Buffer
	cfg, l, err := Init(&buf)
	if err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	rt, err := NewRuntime(context.Background(), cfg, l)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func TestNewRuntime_APICallsAreNotBoundByIdentityTimeout(t *testing.T) {
	prev := identityTimeout
	identityTimeout = 50 * time.Millisecond
	t.Cleanup(func() { identityTimeout = prev })

	rt := newSlowRuntime(t, 300*time.Millisecond)

	got, err := rt.API.GetJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("slow backend call should succeed, got %v", err)
	}
	if string(got) != `[{"id":"1","title":"Go Engineer"}]` {
		t.Errorf("got %s", got)
	}
}

func TestNewRuntime_APICallsStopOnCallerCancellation(t *testing.T) {
	rt := newSlowRuntime(t, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := rt.API.GetJobs(ctx, nil)
	if !model.IsKind(err, model.ErrKindTransport) {
		t.Fatalf("got %v, want transport error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call returned after %v, want prompt return on cancellation", elapsed)
	}
}
