package fetch

import (
	"context"

	"github.com/hitoshi/jobboard/internal/config"
)

// Executor は任意のAPI呼び出しを実行し、実行中フラグとエラーを記録する。
// 同一インスタンスでの同時呼び出しは重複排除しない。
type Executor[T any] struct {
	t *tracker[T]
}

// NewExecutor はidle状態のExecutorを生成する。
func NewExecutor[T any](policy config.CommitPolicy) *Executor[T] {
	return &Executor[T]{
		t: newTracker(policy, RequestState[T]{Phase: PhaseIdle}),
	}
}

// Execute はcallを実行する。失敗時はエラーメッセージを状態に記録したうえで、同じエラーを返す。
// 戻り値は表示状態へのコミット有無に関わらず、この呼び出し自身の結果。
func (e *Executor[T]) Execute(ctx context.Context, call Call[T]) (T, error) {
	gen := e.t.begin()
	data, err := call(ctx)
	e.t.settle(gen, data, err)
	return data, err
}

// State は現在の状態を返す。
func (e *Executor[T]) State() RequestState[T] {
	return e.t.snapshot()
}

// Subscribe は状態変化のリスナーを登録し、解除関数を返す。
func (e *Executor[T]) Subscribe(fn func(RequestState[T])) func() {
	return e.t.subscribe(fn)
}
