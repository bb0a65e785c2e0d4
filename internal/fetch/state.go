// Package fetch はAPI呼び出しを {data, loading, error} の状態として公開するデータ取得フックを提供する。
//
// 状態遷移は idle → loading → (resolved | rejected) で、resolved/rejected から loading へは
// Execute/Refetch の明示的な呼び出しでのみ戻る。キャンセル状態は無く、追い越された呼び出しも
// 最後まで実行される。どの呼び出しの結果を表示状態に反映するかはCommitPolicyで決まる。
package fetch

import (
	"context"
	"sync"

	"github.com/hitoshi/jobboard/internal/config"
)

// Phase はフックの状態遷移上の位置。
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLoading  Phase = "loading"
	PhaseResolved Phase = "resolved"
	PhaseRejected Phase = "rejected"
)

// RequestState はフックが公開する {data, loading, error} の組。
// Dataは最後に成功した呼び出しの結果で、失敗時も保持される。Errorは空文字で「エラーなし」を表す。
// ErrはErrorの元になったエラーで、errors.As で *model.RequestError の種別を判別できる。
type RequestState[T any] struct {
	Data    T
	Loading bool
	Error   string
	Err     error
	Phase   Phase
}

// Call はフックが包むAPI呼び出し。
type Call[T any] func(ctx context.Context) (T, error)

// tracker は状態・世代カウンター・リスナーを保持し、コミット規則を適用する。
type tracker[T any] struct {
	policy config.CommitPolicy

	mu     sync.Mutex
	state  RequestState[T]
	issued uint64 // 最後に発行した呼び出しの世代

	listenersMu sync.Mutex
	listeners   map[int]func(RequestState[T])
	nextID      int
}

func newTracker[T any](policy config.CommitPolicy, initial RequestState[T]) *tracker[T] {
	if policy == "" {
		policy = config.CommitLatestIssued
	}
	return &tracker[T]{
		policy:    policy,
		state:     initial,
		listeners: make(map[int]func(RequestState[T])),
	}
}

// begin は呼び出し開始を記録し、その呼び出しの世代を返す。
func (t *tracker[T]) begin() uint64 {
	t.mu.Lock()
	t.issued++
	gen := t.issued
	t.state.Loading = true
	t.state.Error = ""
	t.state.Err = nil
	t.state.Phase = PhaseLoading
	snapshot := t.state
	t.mu.Unlock()

	t.publish(snapshot)
	return gen
}

// settle は呼び出し完了を記録する。コミットされた場合はtrueを返す。
//   - CommitLatestIssued: 最後に発行された呼び出しの結果のみ反映し、それ以前の結果は捨てる。
//   - CommitLastSettled: 完了順に上書きする。古い呼び出しが後から完了すると新しい結果を上書きする。
func (t *tracker[T]) settle(gen uint64, data T, err error) bool {
	t.mu.Lock()
	if t.policy == config.CommitLatestIssued && gen != t.issued {
		t.mu.Unlock()
		return false
	}

	if err != nil {
		t.state.Error = err.Error()
		t.state.Err = err
		t.state.Phase = PhaseRejected
	} else {
		t.state.Data = data
		t.state.Phase = PhaseResolved
	}
	t.state.Loading = false
	snapshot := t.state
	t.mu.Unlock()

	t.publish(snapshot)
	return true
}

func (t *tracker[T]) snapshot() RequestState[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *tracker[T]) subscribe(fn func(RequestState[T])) func() {
	t.listenersMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.listenersMu.Unlock()

	return func() {
		t.listenersMu.Lock()
		delete(t.listeners, id)
		t.listenersMu.Unlock()
	}
}

// publish はロックの外でリスナーに状態を通知する。
func (t *tracker[T]) publish(s RequestState[T]) {
	t.listenersMu.Lock()
	fns := make([]func(RequestState[T]), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.listenersMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
