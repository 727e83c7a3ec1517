package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/campus/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	BootstrapRate   rate.Limit    // superadmin作成のレート（req/sec）。5/60
	BootstrapBurst  int           // superadmin作成のバーストサイズ
	SignInRate      rate.Limit    // サインイン・サインアップのレート（req/sec）。20/60
	SignInBurst     int           // サインイン・サインアップのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// superadmin作成 5 req/min/IP、サインイン 20 req/min/IP
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(5, 20)
}

// NewRateLimiterConfig は1分あたりのリクエスト数からRateLimiterConfigを生成する。
// 0以下の値はデフォルト値として扱う。
func NewRateLimiterConfig(bootstrapPerMin, signInPerMin int) RateLimiterConfig {
	if bootstrapPerMin <= 0 {
		bootstrapPerMin = 5
	}
	if signInPerMin <= 0 {
		signInPerMin = 20
	}
	return RateLimiterConfig{
		BootstrapRate:   rate.Limit(float64(bootstrapPerMin) / 60.0),
		BootstrapBurst:  bootstrapPerMin,
		SignInRate:      rate.Limit(float64(signInPerMin) / 60.0),
		SignInBurst:     signInPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントIPごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterBucket は同じ設定を共有するクライアントごとのリミッター群。
type limiterBucket struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

func newLimiterBucket(name string, r rate.Limit, burst int) *limiterBucket {
	return &limiterBucket{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
	}
}

func (b *limiterBucket) get(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cl, ok := b.limiters[key]; ok {
		cl.lastAccess = now
		return cl.limiter
	}

	limiter := rate.NewLimiter(b.rate, b.burst)
	b.limiters[key] = &clientLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

func (b *limiterBucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.limiters)
}

func (b *limiterBucket) evict(now time.Time, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, cl := range b.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(b.limiters, key)
		}
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// 認証前のエンドポイントを対象とするため、キーはユーザーではなくIPになる。
type RateLimiter struct {
	config RateLimiterConfig

	bootstrap *limiterBucket
	signIn    *limiterBucket

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:    config,
		bootstrap: newLimiterBucket("bootstrap", config.BootstrapRate, config.BootstrapBurst),
		signIn:    newLimiterBucket("sign_in", config.SignInRate, config.SignInBurst),
		stopCh:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// BootstrapMiddleware はsuperadmin作成エンドポイント用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) BootstrapMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.bootstrap)
}

// SignInMiddleware はサインイン・サインアップ用のレート制限ミドルウェアを返す。
// superadmin作成の制限とは独立に動作する。
func (rl *RateLimiter) SignInMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.signIn)
}

func (rl *RateLimiter) middleware(b *limiterBucket) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// プリフライトはCORSミドルウェアが応答するので数えない
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIP(r)
			if !b.get(key, time.Now()).Allow() {
				writeRateLimitResponse(w, b.rate)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", key),
					slog.String("limit_type", b.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BootstrapLimiterCount は現在管理されているsuperadmin作成リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) BootstrapLimiterCount() int {
	return rl.bootstrap.len()
}

// SignInLimiterCount は現在管理されているサインインリミッターのエントリ数を返す。
func (rl *RateLimiter) SignInLimiterCount() int {
	return rl.signIn.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.bootstrap.evict(now, ttl)
	rl.signIn.evict(now, ttl)
}

// clientIP はRemoteAddrからポートを除いたIPを返す。
// X-Forwarded-Forの解釈はchiのRealIPミドルウェアに任せる。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
