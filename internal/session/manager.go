package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/campus/internal/identity"
	"github.com/hitoshi/campus/internal/model"
)

// AuthClient はManagerが利用するIdentity Providerクライアントの操作。
type AuthClient interface {
	OnAuthStateChange(listener identity.Listener) func()
	SignInWithPassword(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password, fullName string) error
	SignOut(ctx context.Context) error
}

// Manager はログイン中のIdentityと解決済みProfileを保持する。
// Sessionを書き換えるのはManagerのみで、読み手はCurrent・Subscribe・WaitForを使う。
//
// セッション変更イベントごとに世代番号を進め、古い世代のプロフィール検索結果は破棄する。
// これにより表示されるProfileは常に最新のイベントのIdentityに対応する。
type Manager struct {
	client   AuthClient
	profiles ProfileFinder
	logger   *slog.Logger
	observer LookupObserver

	mu          sync.Mutex
	baseCtx     context.Context
	current     model.Session
	generation  uint64
	cancel      context.CancelFunc
	subscribers map[int]chan model.Session
	nextSubID   int
}

// NewManager はManagerを生成する。Initializeを呼ぶまでSessionはロード中のまま。
func NewManager(client AuthClient, profiles ProfileFinder, logger *slog.Logger) *Manager {
	return &Manager{
		client:      client,
		profiles:    profiles,
		logger:      logger,
		baseCtx:     context.Background(),
		current:     model.Session{Loading: true},
		subscribers: make(map[int]chan model.Session),
	}
}

// SetObserver はプロフィール検索の計測先を設定する。Initializeより前に呼ぶ。
func (m *Manager) SetObserver(observer LookupObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

// Initialize はセッション変更イベントの購読を開始し、購読を終了する関数を返す。
// 最初のイベント（INITIAL_SESSION）が処理されるまでSessionはロード中になる。
// ctxがキャンセルされると進行中のプロフィール検索も中断される。
func (m *Manager) Initialize(ctx context.Context) func() {
	m.mu.Lock()
	m.baseCtx = ctx
	m.publishLocked(model.Session{Loading: true})
	m.mu.Unlock()

	unsubscribe := m.client.OnAuthStateChange(func(e identity.Event) {
		m.logger.Debug("session event", slog.String("event", string(e.Type)))
		m.onSessionEvent(e.Identity)
	})

	return func() {
		unsubscribe()
		m.mu.Lock()
		defer m.mu.Unlock()
		// 進行中の検索結果を反映させない
		m.generation++
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
	}
}

// onSessionEvent はセッション変更イベントを反映する。
// identityがnilの場合は即座にサインアウト状態にする。
// それ以外はロード中にしてプロフィール検索を開始し、結果は検索完了時に反映する。
func (m *Manager) onSessionEvent(ident *model.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if ident == nil {
		m.publishLocked(model.Session{})
		return
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancel = cancel
	m.publishLocked(model.Session{Identity: ident, Loading: true})

	go m.resolve(ctx, m.generation, ident)
}

// resolve はプロフィールを検索し、世代が最新のままであれば結果を反映する。
func (m *Manager) resolve(ctx context.Context, generation uint64, ident *model.Identity) {
	profile, outcome, elapsed := lookupProfile(ctx, m.profiles, ident, m.logger)

	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation {
		m.logger.Debug("discarding superseded profile lookup", slog.String("identity_id", ident.ID))
		m.observeLocked(LookupSuperseded, elapsed)
		return
	}
	m.observeLocked(outcome, elapsed)

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.publishLocked(model.Session{Identity: ident, Profile: profile})
}

// SignIn はIdentity Providerでサインインする。
// Sessionは直接更新せず、続いて届くセッション変更イベントで更新される。
func (m *Manager) SignIn(ctx context.Context, email, password string) error {
	return m.client.SignInWithPassword(ctx, email, password)
}

// SignUp はIdentity Providerでidentityを登録する。fullNameはメタデータとして渡す。
func (m *Manager) SignUp(ctx context.Context, email, password, fullName string) error {
	return m.client.SignUp(ctx, email, password, fullName)
}

// SignOut はIdentity Providerからサインアウトする。
// 進行中のプロフィール検索があっても待たない。
func (m *Manager) SignOut(ctx context.Context) error {
	return m.client.SignOut(ctx)
}

// Current は現在のSessionを返す。
func (m *Manager) Current() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe はSessionが置き換わるたびに最新値を受け取るチャネルを返す。
// 読み遅れた場合は古い値を捨てて最新値のみが残る。
func (m *Manager) Subscribe() (<-chan model.Session, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	ch := make(chan model.Session, 1)
	ch <- m.current
	m.subscribers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// WaitFor はcondを満たすSessionになるまで待ち、そのSessionを返す。
func (m *Manager) WaitFor(ctx context.Context, cond func(model.Session) bool) (model.Session, error) {
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return m.Current(), ctx.Err()
		case s := <-ch:
			if cond(s) {
				return s, nil
			}
		}
	}
}

// WaitReady はロードが完了するまで待ち、そのSessionを返す。
func (m *Manager) WaitReady(ctx context.Context) (model.Session, error) {
	return m.WaitFor(ctx, func(s model.Session) bool { return !s.Loading })
}

func (m *Manager) observeLocked(outcome string, elapsed time.Duration) {
	if m.observer != nil {
		m.observer.ObserveProfileLookup(outcome, elapsed)
	}
}

// publishLocked はSessionを丸ごと置き換え、購読者に通知する。
func (m *Manager) publishLocked(s model.Session) {
	m.current = s
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
