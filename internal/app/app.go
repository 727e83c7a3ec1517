package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/campus/internal/config"
	"github.com/hitoshi/campus/internal/database"
	"github.com/hitoshi/campus/internal/guard"
	"github.com/hitoshi/campus/internal/handler"
	"github.com/hitoshi/campus/internal/identity"
	"github.com/hitoshi/campus/internal/logger"
	"github.com/hitoshi/campus/internal/metrics"
	"github.com/hitoshi/campus/internal/middleware"
	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/repository"
	"github.com/hitoshi/campus/internal/security"
	"github.com/hitoshi/campus/internal/session"
	"github.com/hitoshi/campus/internal/superadmin"
	"github.com/hitoshi/campus/internal/worker/cleanup"
)

// cleanupInterval はリフレッシュトークンのクリーンアップ周期。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。bootstrapとwhoamiの結果はwにJSONで書き出す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("identity_provider", cfg.IdentityProvider),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandBootstrap:
		return runBootstrap(w, cfg)
	case CommandWhoami:
		return runWhoami(w, cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// identityProvider はIdentity Providerの実装。認証操作と管理操作の両方を持つ。
type identityProvider interface {
	identity.Provider
	identity.Admin
}

// newIdentityProvider はIDENTITY_PROVIDERに応じたIdentity Providerを生成する。
// supabaseはSupabase AuthのREST API、localはPostgreSQLのidentitiesテーブルを使う。
// どちらの場合もアクセストークンはJWT_SECRETのHS256で検証する。
func newIdentityProvider(cfg *config.Config, db *sql.DB) (identityProvider, error) {
	verifier := identity.NewJWTVerifier(cfg.JWTSecret)

	switch cfg.IdentityProvider {
	case config.IdentityProviderSupabase:
		return identity.NewGoTrue(identity.GoTrueConfig{
			URL:            cfg.SupabaseURL,
			AnonKey:        cfg.SupabaseAnonKey,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Verifier:       verifier,
		}), nil
	case config.IdentityProviderLocal:
		return identity.NewLocal(
			repository.NewPostgresIdentityRepo(db),
			repository.NewPostgresRefreshTokenRepo(db),
			verifier,
			identity.LocalConfig{
				AccessTokenTTL:  cfg.AccessTokenTTL,
				RefreshTokenTTL: cfg.RefreshTokenTTL,
			},
		), nil
	default:
		return nil, fmt.Errorf("unsupported identity provider: %q", cfg.IdentityProvider)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリとIdentity Providerの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)
	provider, err := newIdentityProvider(cfg, db)
	if err != nil {
		return err
	}

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	resolver := session.NewResolver(provider, profileRepo, slog.Default(), collector)
	statusService := superadmin.NewStatusService(profileRepo, slog.Default(), collector)
	bootstrapService := superadmin.NewBootstrapService(
		profileRepo, provider, security.NewNameSanitizer(), slog.Default(), collector,
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitBootstrap, cfg.RateLimitSignIn),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionResolver:   resolver,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthProvider: provider,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure: strings.HasPrefix(cfg.BaseURL, "https://"),
		},

		StatusService:    statusService,
		BootstrapService: bootstrapService,

		GuardTargets: guardTargets(cfg),

		HealthChecker: db,
		Metrics:       collector,
		Gatherer:      registry,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、リフレッシュトークンのクリーンアップジョブを日次で実行する。
// 削除件数のメトリクスはSERVER_PORTの/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(
		repository.NewPostgresRefreshTokenRepo(db), slog.Default(), collector,
	)
	cleanupJob.RetentionDays = cfg.TokenRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
		slog.Int("retention_days", cleanupJob.RetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// bootstrapOutput はbootstrapサブコマンドの出力。
type bootstrapOutput struct {
	Message string             `json:"message"`
	User    *superadmin.Result `json:"user"`
}

// runBootstrap はSUPERADMIN_EMAIL・SUPERADMIN_PASSWORD・SUPERADMIN_NAMEから
// 最初のsuperadminを作成する。
// 件数確認に失敗した場合は既に存在するものとして扱い、作成しない。
func runBootstrap(w io.Writer, cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := newIdentityProvider(cfg, db)
	if err != nil {
		return err
	}

	profileRepo := repository.NewPostgresProfileRepo(db)
	statusService := superadmin.NewStatusService(profileRepo, slog.Default(), nil)
	bootstrapService := superadmin.NewBootstrapService(
		profileRepo, provider, security.NewNameSanitizer(), slog.Default(), nil,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := statusService.Status(ctx)
	if err != nil {
		return fmt.Errorf("superadmin status check failed: %w", err)
	}
	if status.Exists {
		return errors.New("superadmin already exists: bootstrap skipped")
	}

	result, err := bootstrapService.Bootstrap(ctx, superadmin.Request{
		Email:    os.Getenv("SUPERADMIN_EMAIL"),
		Password: os.Getenv("SUPERADMIN_PASSWORD"),
		FullName: os.Getenv("SUPERADMIN_NAME"),
	})
	if err != nil {
		return fmt.Errorf("superadmin bootstrap failed: %w", err)
	}

	return json.NewEncoder(w).Encode(bootstrapOutput{
		Message: handler.MsgSuperadminCreated,
		User:    result,
	})
}

// whoamiOutput はwhoamiサブコマンドの出力。
type whoamiOutput struct {
	IdentityID string        `json:"identity_id"`
	Email      string        `json:"email"`
	Role       model.Role    `json:"role,omitempty"`
	FullName   string        `json:"full_name,omitempty"`
	Active     bool          `json:"active"`
	Routes     []routeOutput `json:"routes"`
}

// routeOutput は保護されたページごとのAccess Guardの判定。
// Redirectsはセッション開始から発火したリダイレクトを順に並べたもの。
type routeOutput struct {
	Path      string      `json:"path"`
	State     guard.State `json:"state"`
	Redirect  string      `json:"redirect,omitempty"`
	Redirects []string    `json:"redirects,omitempty"`
}

// routeWatcher は保護されたページごとにGuardを置き、Managerのセッション変化を追跡させる。
type routeWatcher struct {
	routes []guard.Route
	guards []*guard.Guard
	feeds  []<-chan model.Session
	unsubs []func()
	stop   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	redirects [][]string
}

// watchRoutes はguard.Routesの各ページについてGuard.Watchを開始する。
func watchRoutes(manager *session.Manager, targets guard.Targets) *routeWatcher {
	rw := &routeWatcher{
		routes: guard.Routes(),
		stop:   make(chan struct{}),
	}
	rw.redirects = make([][]string, len(rw.routes))
	for i, route := range rw.routes {
		g := guard.New(route.Requirement, targets, func(target string) {
			rw.mu.Lock()
			rw.redirects[i] = append(rw.redirects[i], target)
			rw.mu.Unlock()
		})
		feed, unsubscribe := manager.Subscribe()
		rw.guards = append(rw.guards, g)
		rw.feeds = append(rw.feeds, feed)
		rw.unsubs = append(rw.unsubs, unsubscribe)

		rw.wg.Add(1)
		go func() {
			defer rw.wg.Done()
			g.Watch(feed, rw.stop)
		}()
	}
	return rw
}

// Close は追跡を終了し、各ページの最終判定を返す。
// 未処理のSessionが残っていれば評価してから返す。
func (rw *routeWatcher) Close() []routeOutput {
	close(rw.stop)
	rw.wg.Wait()

	out := make([]routeOutput, 0, len(rw.routes))
	for i, g := range rw.guards {
		select {
		case s := <-rw.feeds[i]:
			g.Observe(s)
		default:
		}
		rw.unsubs[i]()

		d := g.Current()
		rw.mu.Lock()
		redirects := append([]string(nil), rw.redirects[i]...)
		rw.mu.Unlock()
		out = append(out, routeOutput{
			Path:      rw.routes[i].Path,
			State:     d.State,
			Redirect:  d.Redirect,
			Redirects: redirects,
		})
	}
	return out
}

// runWhoami はCAMPUS_EMAILとCAMPUS_PASSWORDでSession Manager経由でサインインし、
// プロフィールの解決まで待ってからセッションを出力する。終了時にサインアウトする。
func runWhoami(w io.Writer, cfg *config.Config) error {
	email := os.Getenv("CAMPUS_EMAIL")
	password := os.Getenv("CAMPUS_PASSWORD")
	if email == "" || password == "" {
		return errors.New("CAMPUS_EMAIL and CAMPUS_PASSWORD are required")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := newIdentityProvider(cfg, db)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := identity.NewClient(provider, slog.Default())
	defer client.Close()
	go client.StartAutoRefresh(ctx)

	manager := session.NewManager(client, repository.NewPostgresProfileRepo(db), slog.Default())
	stop := manager.Initialize(ctx)
	defer stop()

	routes := watchRoutes(manager, guardTargets(cfg))

	if _, err := manager.WaitReady(ctx); err != nil {
		routes.Close()
		return fmt.Errorf("session initialization timed out: %w", err)
	}

	if err := manager.SignIn(ctx, email, password); err != nil {
		routes.Close()
		return fmt.Errorf("sign in failed: %w", err)
	}
	defer func() {
		if err := manager.SignOut(context.Background()); err != nil {
			slog.Warn("sign out failed", slog.String("error", err.Error()))
		}
	}()

	// 発行されたトークンをIdentity Providerに問い合わせて確認する。
	// Managerが先に登録したリスナーでUSER_UPDATEDを処理し終えてから待機に入る。
	verified := make(chan struct{})
	var once sync.Once
	unsubscribe := client.OnAuthStateChange(func(e identity.Event) {
		if e.Type == identity.EventUserUpdated {
			once.Do(func() { close(verified) })
		}
	})
	defer unsubscribe()
	if err := client.ReloadUser(ctx); err != nil {
		routes.Close()
		return fmt.Errorf("token verification failed: %w", err)
	}
	select {
	case <-verified:
	case <-ctx.Done():
		routes.Close()
		return fmt.Errorf("token verification timed out: %w", ctx.Err())
	}

	s, err := manager.WaitFor(ctx, func(s model.Session) bool {
		return s.Authenticated() && !s.Loading
	})
	if err != nil {
		routes.Close()
		return fmt.Errorf("profile resolution timed out: %w", err)
	}

	out := whoamiOutput{IdentityID: s.Identity.ID, Email: s.Identity.Email, Routes: routes.Close()}
	if p := s.ActiveProfile(); p != nil {
		out.Role = p.Role
		out.FullName = p.FullName
		out.Active = p.IsActive
	}
	return json.NewEncoder(w).Encode(out)
}

// guardTargets はAccess Guardのリダイレクト先を返す。
func guardTargets(cfg *config.Config) guard.Targets {
	return guard.Targets{SignIn: cfg.SignInPath, Home: cfg.HomePath}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
