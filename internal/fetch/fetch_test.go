package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hitoshi/jobboard/internal/config"
)

// gatedCall は解放されるまで完了しない呼び出しを作る。started は呼び出し開始時に閉じられる。
type gatedCall struct {
	started chan struct{}
	release chan struct{}
	data    string
	err     error
}

func newGatedCall(data string, err error) *gatedCall {
	return &gatedCall{
		started: make(chan struct{}),
		release: make(chan struct{}),
		data:    data,
		err:     err,
	}
}

func (g *gatedCall) call(context.Context) (string, error) {
	close(g.started)
	<-g.release
	return g.data, g.err
}

// runOverlapping はAを発行、続いてBを発行し、Bを先に、Aを後に完了させる。
// 各完了直後の状態を返す。
func runOverlapping(t *testing.T, policy config.CommitPolicy) (afterB, afterA RequestState[string]) {
	t.Helper()
	e := NewExecutor[string](policy)
	ctx := context.Background()

	a := newGatedCall("A", nil)
	b := newGatedCall("B", nil)

	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		e.Execute(ctx, a.call)
	}()
	<-a.started

	doneB := make(chan struct{})
	go func() {
		defer close(doneB)
		e.Execute(ctx, b.call)
	}()
	<-b.started

	close(b.release)
	<-doneB
	afterB = e.State()

	close(a.release)
	<-doneA
	afterA = e.State()
	return afterB, afterA
}

func TestExecutor_LastSettled_StaleOverwriteHazard(t *testing.T) {
	afterB, afterA := runOverlapping(t, config.CommitLastSettled)

	if afterB.Data != "B" {
		t.Errorf("Bの完了直後 data = %q, want B", afterB.Data)
	}
	// 先に発行されたAが後から完了し、Bの結果を上書きする
	if afterA.Data != "A" {
		t.Errorf("両方の完了後 data = %q, want A (last settled)", afterA.Data)
	}
	if afterA.Loading {
		t.Error("loading should be false after both settle")
	}
}

func TestExecutor_LatestIssued_KeepsNewestResult(t *testing.T) {
	afterB, afterA := runOverlapping(t, config.CommitLatestIssued)

	if afterB.Data != "B" || afterB.Loading {
		t.Errorf("Bの完了直後 = %+v, want data B and not loading", afterB)
	}
	if afterA.Data != "B" {
		t.Errorf("両方の完了後 data = %q, want B (latest issued)", afterA.Data)
	}
	if afterA.Phase != PhaseResolved {
		t.Errorf("Phase = %s, want resolved", afterA.Phase)
	}
}

func TestExecutor_LatestIssued_StaysLoadingUntilNewestSettles(t *testing.T) {
	e := NewExecutor[string](config.CommitLatestIssued)
	ctx := context.Background()

	a := newGatedCall("A", nil)
	b := newGatedCall("B", nil)

	doneA := make(chan struct{})
	go func() { defer close(doneA); e.Execute(ctx, a.call) }()
	<-a.started
	doneB := make(chan struct{})
	go func() { defer close(doneB); e.Execute(ctx, b.call) }()
	<-b.started

	// 古い呼び出しAだけが完了しても表示状態は変わらない
	close(a.release)
	<-doneA
	if s := e.State(); !s.Loading || s.Data != "" {
		t.Errorf("Aの完了後 = %+v, want still loading with no data", s)
	}

	close(b.release)
	<-doneB
	if s := e.State(); s.Data != "B" || s.Loading {
		t.Errorf("state = %+v, want data B, loading false", s)
	}
}

func TestExecutor_InitialStateIsIdle(t *testing.T) {
	e := NewExecutor[string](config.CommitLatestIssued)
	s := e.State()
	if s.Phase != PhaseIdle || s.Loading || s.Error != "" || s.Data != "" {
		t.Errorf("initial state = %+v, want idle", s)
	}
}

func TestExecutor_RecordsAndReturnsError(t *testing.T) {
	e := NewExecutor[string](config.CommitLatestIssued)
	wantErr := errors.New("HTTP 500: Internal Server Error")

	_, err := e.Execute(context.Background(), func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Execute returned %v, want %v", err, wantErr)
	}

	s := e.State()
	if s.Error != wantErr.Error() {
		t.Errorf("Error = %q, want %q", s.Error, wantErr.Error())
	}
	if !errors.Is(s.Err, wantErr) {
		t.Errorf("Err = %v, want the call's own error", s.Err)
	}
	if s.Phase != PhaseRejected || s.Loading {
		t.Errorf("state = %+v, want rejected and not loading", s)
	}
}

func TestExecutor_ErrorKeepsDataAndNextCallClearsError(t *testing.T) {
	e := NewExecutor[string](config.CommitLatestIssued)
	ctx := context.Background()

	e.Execute(ctx, func(context.Context) (string, error) { return "first", nil })
	e.Execute(ctx, func(context.Context) (string, error) { return "", errors.New("boom") })

	if s := e.State(); s.Data != "first" || s.Error != "boom" {
		t.Errorf("state = %+v, want data kept and error recorded", s)
	}

	g := newGatedCall("second", nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Execute(ctx, g.call)
	}()
	<-g.started

	if s := e.State(); s.Error != "" || s.Err != nil || !s.Loading {
		t.Errorf("実行中の状態 = %+v, want error cleared and loading", s)
	}
	close(g.release)
	<-done

	if s := e.State(); s.Data != "second" || s.Error != "" {
		t.Errorf("state = %+v, want data second", s)
	}
}

func TestExecutor_ReturnsOwnResultEvenWhenNotCommitted(t *testing.T) {
	e := NewExecutor[string](config.CommitLatestIssued)
	ctx := context.Background()

	a := newGatedCall("A", nil)
	resultA := make(chan string, 1)
	go func() {
		v, _ := e.Execute(ctx, a.call)
		resultA <- v
	}()
	<-a.started

	e.Execute(ctx, func(context.Context) (string, error) { return "B", nil })
	close(a.release)

	if got := <-resultA; got != "A" {
		t.Errorf("Execute returned %q to its caller, want A", got)
	}
}

func TestQuery_LoadingStrictlyBetweenStartAndSettle(t *testing.T) {
	g := newGatedCall("jobs", nil)

	q := NewQuery[string](context.Background(), config.CommitLatestIssued, g.call)

	// 生成直後から完了までloading
	if s := q.State(); !s.Loading || s.Phase != PhaseLoading {
		t.Fatalf("state after creation = %+v, want loading", s)
	}
	<-g.started
	if !q.State().Loading {
		t.Fatal("loading should stay true while the call is in flight")
	}

	close(g.release)
	q.Wait()

	s := q.State()
	if s.Loading || s.Phase != PhaseResolved || s.Data != "jobs" {
		t.Errorf("state after settle = %+v, want resolved jobs", s)
	}
}

func TestQuery_SubscribeObservesTransitions(t *testing.T) {
	calls := 0
	q := NewQuery[int](context.Background(), config.CommitLatestIssued, func(context.Context) (int, error) {
		calls++
		return calls, nil
	})
	q.Wait()

	var mu sync.Mutex
	var seen []RequestState[int]
	unsubscribe := q.Subscribe(func(s RequestState[int]) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	final := q.Refetch(context.Background())
	unsubscribe()
	q.Refetch(context.Background())

	if final.Data != 2 {
		t.Errorf("Refetch data = %d, want 2", final.Data)
	}
	if len(seen) != 2 {
		t.Fatalf("len(seen) = %d, want 2 (解除後は通知されない)", len(seen))
	}
	if !seen[0].Loading || seen[0].Phase != PhaseLoading {
		t.Errorf("seen[0] = %+v, want loading", seen[0])
	}
	if seen[1].Loading || seen[1].Data != 2 {
		t.Errorf("seen[1] = %+v, want resolved 2", seen[1])
	}
}

func TestQuery_SetDepsReissuesOnlyOnChange(t *testing.T) {
	var mu sync.Mutex
	var issued []string
	callFor := func(loc string) Call[string] {
		return func(context.Context) (string, error) {
			mu.Lock()
			issued = append(issued, loc)
			mu.Unlock()
			return loc, nil
		}
	}

	q := NewQuery(context.Background(), config.CommitLatestIssued, callFor("Remote"), "location=Remote")
	q.Wait()

	if q.SetDeps(callFor("Remote"), "location=Remote") {
		t.Error("SetDeps with identical deps should not re-issue")
	}
	if !q.SetDeps(callFor("Tokyo"), "location=Tokyo") {
		t.Error("SetDeps with changed deps should re-issue")
	}
	q.Wait()

	if len(issued) != 2 || issued[1] != "Tokyo" {
		t.Errorf("issued = %v, want [Remote Tokyo]", issued)
	}
	if got := q.State().Data; got != "Tokyo" {
		t.Errorf("data = %q, want Tokyo", got)
	}

	// Refetchは最新の呼び出しを再発行する
	q.Refetch(context.Background())
	if len(issued) != 3 || issued[2] != "Tokyo" {
		t.Errorf("issued = %v, want refetch of Tokyo", issued)
	}
}

func TestQuery_LastSettledRefetchOverwritesUnconditionally(t *testing.T) {
	first := newGatedCall("stale", nil)
	var n int
	var mu sync.Mutex
	q := NewQuery[string](context.Background(), config.CommitLastSettled, func(ctx context.Context) (string, error) {
		mu.Lock()
		n++
		current := n
		mu.Unlock()
		if current == 1 {
			return first.call(ctx)
		}
		return "fresh", nil
	})
	<-first.started

	if s := q.Refetch(context.Background()); s.Data != "fresh" {
		t.Fatalf("Refetch data = %q, want fresh", s.Data)
	}

	close(first.release)
	q.Wait()

	if got := q.State().Data; got != "stale" {
		t.Errorf("data = %q, want stale (last settled overwrites)", got)
	}
}
