package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/babylog/internal/metrics"
	"github.com/hitoshi/babylog/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// メトリクス
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// ドメインサービス
	BabyService         BabyServiceInterface
	FeedingService      FeedingServiceInterface
	FoodService         FoodServiceInterface
	SolidFeedingService SolidFeedingServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Status(metrics) → Logging → Recovery → SecurityHeaders → CORS
//	  /api/*: JSONContentType → Session → RateLimit(General) → RateLimit(Write)
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(metrics.NewStatusMiddleware(collector))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	babyHandler := NewBabyHandler(deps.BabyService)
	feedingHandler := NewFeedingHandler(deps.FeedingService)
	foodHandler := NewFoodHandler(deps.FoodService)
	solidHandler := NewSolidFeedingHandler(deps.SolidFeedingService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証が必要なルート ---
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewJSONContentTypeMiddleware())
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(deps.RateLimiter.WriteMiddleware())

		// 赤ちゃん
		r.Route("/babies", func(r chi.Router) {
			r.Post("/", babyHandler.Register)
			r.Get("/", babyHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", babyHandler.Get)
				r.Get("/next-feeding", feedingHandler.NextFeeding)
				r.Get("/food-history", foodHandler.FoodHistory)
			})
		})

		// 授乳記録（離乳食以外）
		r.Route("/feedings", func(r chi.Router) {
			r.Post("/", feedingHandler.LogFeeding)
			r.Get("/", feedingHandler.ListFeedings)
			r.Delete("/{id}", feedingHandler.DeleteFeeding)
		})

		// 食材カタログ
		r.Route("/foods", func(r chi.Router) {
			r.Post("/", foodHandler.CreateFood)
			r.Get("/", foodHandler.ListFoods)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", foodHandler.GetFood)
				r.Patch("/", foodHandler.UpdateFood)
				r.Delete("/", foodHandler.DeleteFood)
			})
		})

		// 離乳食記録
		r.Route("/solid-feedings", func(r chi.Router) {
			r.Post("/", solidHandler.CreateSolidFeeding)
			r.Put("/{id}", solidHandler.UpdateSolidFeeding)
			r.Delete("/{id}", solidHandler.DeleteSolidFeeding)
		})
	})

	return r
}
