package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/babylog/internal/baby"
	"github.com/hitoshi/babylog/internal/config"
	"github.com/hitoshi/babylog/internal/database"
	"github.com/hitoshi/babylog/internal/feeding"
	"github.com/hitoshi/babylog/internal/food"
	"github.com/hitoshi/babylog/internal/handler"
	"github.com/hitoshi/babylog/internal/logger"
	"github.com/hitoshi/babylog/internal/metrics"
	"github.com/hitoshi/babylog/internal/middleware"
	"github.com/hitoshi/babylog/internal/repository"
	"github.com/hitoshi/babylog/internal/security"
	"github.com/hitoshi/babylog/internal/worker/cleanup"
	"github.com/hitoshi/babylog/internal/worker/recount"
)

// cleanupInterval は期限切れセッション削除の実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// LOG_LEVELに従ってJSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
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
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandRecount:
		return runRecount(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	babyRepo := repository.NewPostgresBabyRepo(db)
	feedingRepo := repository.NewPostgresFeedingRepo(db)
	foodRepo := repository.NewPostgresFoodItemRepo(db)
	assocRepo := repository.NewPostgresFoodAssociationRepo(db)

	// 3. メトリクス
	registry := newRegistry()
	collector := metrics.NewCollector(registry)

	// 4. ドメインサービスの初期化
	sanitizer := security.NewTextSanitizer()
	baseLogger := slog.Default()

	babyService := baby.NewService(babyRepo, sanitizer, baseLogger)
	feedingService := feeding.NewService(feedingRepo, babyRepo, sanitizer, baseLogger)
	catalogService := food.NewCatalogService(foodRepo, feedingRepo, assocRepo, babyRepo, sanitizer, baseLogger)
	reconciler := food.NewReconciler(
		feedingRepo, foodRepo, assocRepo, babyRepo, sanitizer, collector, baseLogger,
		cfg.ReconcileTimeout, cfg.ReconcileConcurrency,
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            baseLogger,
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		Metrics:  collector,
		Gatherer: registry,

		BabyService:         babyService,
		FeedingService:      handler.NewFeedingServiceAdapter(feedingService),
		FoodService:         handler.NewFoodServiceAdapter(catalogService),
		SolidFeedingService: reconciler,
	})

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

// workerDeps はworker/recountコマンドが共有する依存関係。
type workerDeps struct {
	db       *sql.DB
	sessions *repository.PostgresSessionRepo
	sweeper  *recount.Sweeper
	registry *prometheus.Registry
	closeFns []func() error
}

func (d *workerDeps) Close() {
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		d.closeFns[i]()
	}
}

// newWorkerDeps はDB接続と、REDIS_ADDRESSが設定されている場合はRedisロックを準備して
// 再集計スイープを構築する。
func newWorkerDeps(cfg *config.Config) (*workerDeps, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	deps := &workerDeps{db: db, closeFns: []func() error{db.Close}}

	if err := db.Ping(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	babyRepo := repository.NewPostgresBabyRepo(db)
	feedingRepo := repository.NewPostgresFeedingRepo(db)
	foodRepo := repository.NewPostgresFoodItemRepo(db)
	assocRepo := repository.NewPostgresFoodAssociationRepo(db)
	deps.sessions = repository.NewPostgresSessionRepo(db)

	baseLogger := slog.Default()
	deps.registry = newRegistry()
	collector := metrics.NewCollector(deps.registry)

	reconciler := food.NewReconciler(
		feedingRepo, foodRepo, assocRepo, babyRepo, security.NewTextSanitizer(), collector, baseLogger,
		cfg.ReconcileTimeout, cfg.ReconcileConcurrency,
	)

	// lockerはインターフェースのまま保持し、Redis未設定時はnilにする
	var locker recount.Locker
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.closeFns = append(deps.closeFns, rdb.Close)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		locker = redislock.New(rdb)
		slog.Info("redis lock enabled for recount sweep", slog.String("redis_address", cfg.RedisAddress))
	}

	deps.sweeper = recount.NewSweeper(
		foodRepo, reconciler, locker, collector, baseLogger,
		cfg.RecountConcurrency, cfg.RecountLockTTL,
	)
	return deps, nil
}

// runWorker はワーカーモードで起動する。
// 食材カウンタの再集計スイープと期限切れセッションの削除を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	deps, err := newWorkerDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	cleanupJob := cleanup.NewCleanupJob(deps.sessions, slog.Default())
	cleanupJob.RetentionDays = cfg.SessionRetentionDays

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
		slog.Duration("recount_interval", cfg.RecountInterval),
		slog.Int("recount_concurrency", cfg.RecountConcurrency),
		slog.Int("session_retention_days", cfg.SessionRetentionDays),
	)

	// スイープの結果をスクレイプできるよう、ヘルスチェックとメトリクスだけを公開する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newWorkerRouter(deps.db, deps.registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// 再集計スイープをメインgoroutineで実行（ブロッキング）
	deps.sweeper.Start(ctx, cfg.RecountInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runRecount は全食材のカウンタを1回だけ再集計して終了する。
// 他のワーカーがロックを保持している場合は何もせずに終了する。
func runRecount(cfg *config.Config) error {
	deps, err := newWorkerDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := deps.sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("recount failed: %w", err)
	}
	if result.Skipped {
		slog.Info("recount skipped: another worker holds the lock")
		return nil
	}
	if result.Failed > 0 {
		return fmt.Errorf("recount finished with %d failures out of %d foods", result.Failed, result.Scanned)
	}
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

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newWorkerRouter はワーカー用の /health と /metrics を返すルーターを構築する。
func newWorkerRouter(checker handler.HealthChecker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Get("/health", handler.NewHealthHandler(checker))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	return r
}

// newRegistry はプロセス・ランタイムのコレクタを登録済みのレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// 解析できないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
