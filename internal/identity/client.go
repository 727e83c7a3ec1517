package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/campus/internal/model"
)

const (
	// autoRefreshTick は自動リフレッシュの確認間隔。
	autoRefreshTick = 30 * time.Second
	// autoRefreshMargin は有効期限のこの時間前になったらリフレッシュする。
	autoRefreshMargin = 3 * autoRefreshTick
)

// Listener はセッション変更イベントを受け取る関数。
// イベントは単一のディスパッチゴルーチンから発生順に呼び出される。
type Listener func(Event)

// dispatch はキューに積まれた配信単位。targetが0の場合は全リスナーに配信する。
type dispatch struct {
	event  Event
	target int
}

// Client はトークンを保持し、セッション変更イベントを配信するIdentity Providerクライアント。
// 全てのイベントは1本のキューを通り、リスナーには発生順に届く。
type Client struct {
	provider Provider
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	tokens    *model.TokenPair
	listeners map[int]Listener
	nextID    int
	queue     []dispatch
	closed    bool
	cond      *sync.Cond
	done      chan struct{}
}

// NewClient はClientを生成し、イベント配信ゴルーチンを開始する。
func NewClient(provider Provider, logger *slog.Logger) *Client {
	c := &Client{
		provider:  provider,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]Listener),
		done:      make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.run()
	return c
}

// OnAuthStateChange はリスナーを登録し、登録解除関数を返す。
// 登録直後に現在のセッションでINITIAL_SESSIONイベントがそのリスナーにのみ配信される。
func (c *Client) OnAuthStateChange(listener Listener) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	c.enqueueLocked(Event{Type: EventInitialSession, Identity: c.identityLocked()}, id)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SignInWithPassword はサインインし、成功時にSIGNED_INを配信する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) error {
	pair, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}
	c.setSession(pair, EventSignedIn)
	return nil
}

// SignUp はidentityを登録する。トークンが発行された場合はSIGNED_INを配信する。
// メール確認待ちの場合はイベントを配信しない。
func (c *Client) SignUp(ctx context.Context, email, password, fullName string) error {
	pair, err := c.provider.SignUp(ctx, email, password, fullName)
	if err != nil {
		return err
	}
	if pair.AccessToken != "" {
		c.setSession(pair, EventSignedIn)
	}
	return nil
}

// SignOut はローカルのセッションを即座に破棄してSIGNED_OUTを配信し、
// その後Identity Provider側のセッションを無効化する。
// Provider側の失敗はエラーとして返すが、ローカルの状態は常にサインアウトになる。
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	prev := c.tokens
	c.tokens = nil
	c.enqueueLocked(Event{Type: EventSignedOut}, 0)
	c.mu.Unlock()

	if prev == nil || prev.AccessToken == "" {
		return nil
	}
	if err := c.provider.SignOut(ctx, prev.AccessToken); err != nil && !errors.Is(err, ErrInvalidToken) {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RefreshSession は現在のリフレッシュトークンでトークンを再発行しTOKEN_REFRESHEDを配信する。
// トークンが無効になっていた場合はセッションを破棄してSIGNED_OUTを配信する。
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.Lock()
	current := c.tokens
	c.mu.Unlock()
	if current == nil {
		return ErrNoSession
	}

	pair, err := c.provider.Refresh(ctx, current.RefreshToken)
	if errors.Is(err, ErrInvalidToken) {
		c.mu.Lock()
		// 待機中に別のセッションへ切り替わっていなければ破棄する
		if c.tokens == current {
			c.tokens = nil
			c.enqueueLocked(Event{Type: EventSignedOut}, 0)
		}
		c.mu.Unlock()
		return err
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != current {
		return nil
	}
	c.tokens = pair
	c.enqueueLocked(Event{Type: EventTokenRefreshed, Identity: pair.Identity}, 0)
	return nil
}

// ReloadUser はアクセストークンからidentityを再取得しUSER_UPDATEDを配信する。
func (c *Client) ReloadUser(ctx context.Context) error {
	c.mu.Lock()
	current := c.tokens
	c.mu.Unlock()
	if current == nil {
		return ErrNoSession
	}

	identity, err := c.provider.Verify(ctx, current.AccessToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != current {
		return nil
	}
	updated := *current
	updated.Identity = identity
	c.tokens = &updated
	c.enqueueLocked(Event{Type: EventUserUpdated, Identity: identity}, 0)
	return nil
}

// StartAutoRefresh はctxがキャンセルされるまで、有効期限が近づいたトークンを自動で再発行する。
// 開始時に1度確認し、その後はautoRefreshTickごとに確認する。
func (c *Client) StartAutoRefresh(ctx context.Context) {
	ticker := time.NewTicker(autoRefreshTick)
	defer ticker.Stop()

	for {
		c.refreshIfExpiring(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refreshIfExpiring は有効期限がautoRefreshMargin以内のトークンを再発行する。
func (c *Client) refreshIfExpiring(ctx context.Context) {
	if !c.needsRefresh() {
		return
	}
	if err := c.RefreshSession(ctx); err != nil && !errors.Is(err, ErrNoSession) {
		c.logger.Warn("auto refresh failed", slog.String("error", err.Error()))
	}
}

// Session は現在のトークンのコピーを返す。未サインインの場合はnilを返す。
func (c *Client) Session() *model.TokenPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return nil
	}
	pair := *c.tokens
	return &pair
}

// Close はイベント配信を停止する。未配信のイベントは配信してから終了する。
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	<-c.done
}

func (c *Client) needsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens != nil && c.tokens.RefreshToken != "" &&
		c.tokens.ExpiresAt.Sub(c.now()) < autoRefreshMargin
}

func (c *Client) setSession(pair *model.TokenPair, eventType EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = pair
	c.enqueueLocked(Event{Type: eventType, Identity: pair.Identity}, 0)
}

func (c *Client) identityLocked() *model.Identity {
	if c.tokens == nil {
		return nil
	}
	return c.tokens.Identity
}

func (c *Client) enqueueLocked(event Event, target int) {
	if c.closed {
		return
	}
	c.queue = append(c.queue, dispatch{event: event, target: target})
	c.cond.Signal()
}

// run はキューからイベントを取り出し、リスナーに順番に配信する。
func (c *Client) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 && c.closed {
			c.mu.Unlock()
			return
		}
		d := c.queue[0]
		c.queue = c.queue[1:]

		var targets []Listener
		if d.target != 0 {
			if l, ok := c.listeners[d.target]; ok {
				targets = append(targets, l)
			}
		} else {
			for id := 1; id <= c.nextID; id++ {
				if l, ok := c.listeners[id]; ok {
					targets = append(targets, l)
				}
			}
		}
		c.mu.Unlock()

		for _, l := range targets {
			l(d.event)
		}
	}
}
