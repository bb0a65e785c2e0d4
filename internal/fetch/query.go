package fetch

import (
	"context"
	"reflect"
	"sync"

	"github.com/hitoshi/jobboard/internal/config"
)

// Query は生成時に1回、以降は依存値が変わるたびに呼び出しを自動実行するフック。
// Refetchで同じ呼び出しを任意に再発行できる。
type Query[T any] struct {
	t   *tracker[T]
	ctx context.Context // 自動実行に使う

	mu   sync.Mutex
	call Call[T]
	deps []any

	wg sync.WaitGroup
}

// NewQuery はQueryを生成し、直ちに1回目の呼び出しをバックグラウンドで開始する。
// 生成直後の状態はloading。
func NewQuery[T any](ctx context.Context, policy config.CommitPolicy, call Call[T], deps ...any) *Query[T] {
	q := &Query[T]{
		t:    newTracker(policy, RequestState[T]{Phase: PhaseIdle}),
		ctx:  ctx,
		call: call,
		deps: deps,
	}
	q.issue(ctx, call)
	return q
}

// SetDeps は依存値を更新する。以前の依存値と異なる場合のみcallを新しい呼び出しとして発行し、trueを返す。
func (q *Query[T]) SetDeps(call Call[T], deps ...any) bool {
	q.mu.Lock()
	if reflect.DeepEqual(q.deps, deps) {
		q.mu.Unlock()
		return false
	}
	q.call = call
	q.deps = deps
	q.mu.Unlock()

	q.issue(q.ctx, call)
	return true
}

// Refetch は現在の呼び出しを再発行し、完了まで待つ。
// 先行する呼び出しの完了を待たず、data/errorはコミット規則に従って上書きされる。
func (q *Query[T]) Refetch(ctx context.Context) RequestState[T] {
	q.mu.Lock()
	call := q.call
	q.mu.Unlock()

	gen := q.t.begin()
	data, err := call(ctx)
	q.t.settle(gen, data, err)
	return q.t.snapshot()
}

// State は現在の状態を返す。
func (q *Query[T]) State() RequestState[T] {
	return q.t.snapshot()
}

// Subscribe は状態変化のリスナーを登録し、解除関数を返す。
func (q *Query[T]) Subscribe(fn func(RequestState[T])) func() {
	return q.t.subscribe(fn)
}

// Wait は自動実行中の呼び出しがすべて完了するまで待つ。
func (q *Query[T]) Wait() {
	q.wg.Wait()
}

// issue はloadingへの遷移を同期的に行ってから、呼び出しをバックグラウンドで実行する。
func (q *Query[T]) issue(ctx context.Context, call Call[T]) {
	gen := q.t.begin()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		data, err := call(ctx)
		q.t.settle(gen, data, err)
	}()
}
