// Package session はサインイン中のPrincipalとプロフィールを保持するセッションを提供する。
// 明示的に生成して利用側へ渡す。プロセス全体のシングルトンは持たない。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/jobboard/internal/identity"
	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/repository"
	"github.com/hitoshi/jobboard/internal/worker/besteffort"
)

// Syncer はサインイン時にユーザーをバックエンドへ同期する。*apiclient.Client が満たす。
type Syncer interface {
	SyncUser(ctx context.Context) (model.Payload, error)
}

// Deps はSessionの依存関係。
type Deps struct {
	Provider     identity.Provider
	Runner       *besteffort.Runner
	Logger       *slog.Logger
	Syncer       Syncer                   // nilの場合はサインイン時の同期を行わない
	ProfileCache *repository.ProfileCache // nilの場合はプロフィールをミラーしない
}

// Session はサインイン状態の唯一の保持者。
// Principalは状態変化コールバック、Logout、UpdateUserでのみ書き換えられ、常に丸ごと置き換えられる。
type Session struct {
	provider identity.Provider
	runner   *besteffort.Runner
	logger   *slog.Logger
	syncer   Syncer
	profiles *repository.ProfileCache

	mu          sync.Mutex
	state       model.SessionState
	profile     model.Payload
	profileGen  uint64
	started     bool
	unsubscribe func()

	// mirrorMu はプロフィールキャッシュへの書き込みを直列化する
	mirrorMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[int]func(model.SessionState)
	nextID      int
}

// New はSessionを生成する。Startを呼ぶまでloading状態のまま。
func New(deps Deps) *Session {
	return &Session{
		provider:  deps.Provider,
		runner:    deps.Runner,
		logger:    deps.Logger,
		syncer:    deps.Syncer,
		profiles:  deps.ProfileCache,
		state:     model.SessionState{Loading: true},
		listeners: make(map[int]func(model.SessionState)),
	}
}

// Start はIdPの状態変化を購読する。IdPは購読時に現在の状態を通知するため、
// Start から戻った時点でloadingはfalseになっている。
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	unsubscribe := s.provider.OnChange(func(p *model.Principal) {
		s.onIdentityChange(ctx, p)
	})

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

// Stop は購読を解除し、実行中のベストエフォートタスクの完了を待つ。
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.started = false
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return s.runner.Wait(ctx)
}

// State は現在のセッション状態のコピーを返す。
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionState{
		Principal: clonePrincipal(s.state.Principal),
		Loading:   s.state.Loading,
	}
}

// Subscribe は状態変化のリスナーを登録し、解除関数を返す。
func (s *Session) Subscribe(fn func(model.SessionState)) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// UpdateUser はPrincipalを丸ごと置き換える。nilでローカルのサインイン状態を破棄する。
func (s *Session) UpdateUser(p *model.Principal) {
	s.setPrincipal(clonePrincipal(p))
}

// Profile は保持しているプロフィールを返す。
func (s *Session) Profile() model.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// UpdateProfile はプロフィールを丸ごと置き換え、ローカルキャッシュへベストエフォートでミラーする。
// キャッシュに残るのは常に最後に渡されたプロフィール。古い更新のミラーは書き込まずに捨てる。
func (s *Session) UpdateProfile(ctx context.Context, profile model.Payload) {
	s.mu.Lock()
	s.profile = profile
	s.profileGen++
	gen := s.profileGen
	s.mu.Unlock()

	if s.profiles == nil {
		return
	}
	s.runner.Go(ctx, "mirror_profile", func(ctx context.Context) error {
		return s.mirrorProfile(ctx, gen, profile)
	})
}

// mirrorProfile は世代genが最新の場合のみprofileをキャッシュへ書き込む。
func (s *Session) mirrorProfile(ctx context.Context, gen uint64, profile model.Payload) error {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	s.mu.Lock()
	latest := s.profileGen
	s.mu.Unlock()
	if gen != latest {
		return nil
	}
	return s.profiles.Save(ctx, profile)
}

// Logout はIdPのサインアウトを呼び出す。IdP側が失敗してもローカルのPrincipalは必ず破棄し、
// そのうえでIdPのエラーを返す（IdP側のセッションが残っている可能性を呼び出し元が扱えるように）。
func (s *Session) Logout(ctx context.Context) error {
	signOutErr := s.provider.SignOut(ctx)
	if signOutErr != nil {
		s.logger.Error("identity provider sign-out failed, clearing local session anyway",
			slog.String("error", signOutErr.Error()),
		)
	}

	s.setPrincipal(nil)

	if signOutErr != nil {
		return fmt.Errorf("sign-out failed at identity provider: %w", signOutErr)
	}
	return nil
}

// onIdentityChange はIdPの状態変化を反映する。新たにサインインした場合はユーザー同期を起動する。
func (s *Session) onIdentityChange(ctx context.Context, p *model.Principal) {
	prev := s.setPrincipal(clonePrincipal(p))

	if p == nil || s.syncer == nil {
		return
	}
	if prev != nil && prev.UID == p.UID {
		return
	}

	uid := p.UID
	s.runner.Go(ctx, "sync_user", func(ctx context.Context) error {
		if _, err := s.syncer.SyncUser(ctx); err != nil {
			return fmt.Errorf("sync user %s: %w", uid, err)
		}
		return nil
	})
}

// setPrincipal はPrincipalを置き換えてloadingを終了し、以前のPrincipalを返す。
// サインアウト時はプロフィールも破棄する。変化が無い場合は通知しない。
func (s *Session) setPrincipal(p *model.Principal) *model.Principal {
	s.mu.Lock()
	prev := s.state.Principal
	changed := s.state.Loading || !samePrincipal(prev, p)
	s.state = model.SessionState{Principal: p, Loading: false}
	if p == nil {
		s.profile = nil
	}
	snapshot := model.SessionState{Principal: clonePrincipal(p)}
	s.mu.Unlock()

	if changed {
		s.publish(snapshot)
	}
	return prev
}

// publish はロックの外でリスナーに通知する。
func (s *Session) publish(state model.SessionState) {
	s.listenersMu.Lock()
	fns := make([]func(model.SessionState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(model.SessionState{Principal: clonePrincipal(state.Principal), Loading: state.Loading})
	}
}

func samePrincipal(a, b *model.Principal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clonePrincipal(p *model.Principal) *model.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
