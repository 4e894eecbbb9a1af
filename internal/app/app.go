package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/merchforge/lattice/internal/config"
	"github.com/merchforge/lattice/internal/database"
	"github.com/merchforge/lattice/internal/engine"
	"github.com/merchforge/lattice/internal/handlers"
	"github.com/merchforge/lattice/internal/messaging"
	"github.com/merchforge/lattice/internal/metrics"
	"github.com/merchforge/lattice/internal/middleware"
	"github.com/merchforge/lattice/internal/store"
	"github.com/merchforge/lattice/internal/validation"
)

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	engine    *engine.Engine
	scheduler *engine.Scheduler
	producer  *messaging.InteractionProducer
	handlers  *handlers.Handlers
	router    *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	interactions := store.NewInteractionStore(db.PG, app.logger)
	catalog := store.NewCatalogStore(db.PG, app.logger)

	m := metrics.New(prometheus.DefaultRegisterer)
	cache := engine.NewRedisResultCache(db.Redis, cfg.Engine.Cache, app.logger)

	app.engine = engine.New(interactions, catalog, cache, &cfg.Engine, m, app.logger)
	app.engine.SetServingLog(interactions)
	app.scheduler = engine.NewScheduler(app.engine, cfg.Engine.Rebuild, app.logger)

	if cfg.Kafka.Enabled {
		app.producer = messaging.NewInteractionProducer(cfg, app.logger)
	}

	schema, err := validation.NewInteractionValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile interaction schema: %w", err)
	}

	var publisher handlers.InteractionPublisher
	if app.producer != nil {
		publisher = app.producer
	}
	app.handlers = &handlers.Handlers{
		Recommendation: handlers.NewRecommendationHandler(app.engine, app.logger),
		Interaction:    handlers.NewInteractionHandler(interactions, publisher, schema, app.logger),
		Health:         handlers.NewHealthHandler(app.engine, cfg.Engine.Rebuild, app.logger),
	}

	app.setupRouter()

	return app, nil
}

// Start launches the rebuild scheduler.
func (a *App) Start() {
	a.scheduler.Start()
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	a.scheduler.Stop()

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing Kafka producer")
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	router.GET("/health", a.handlers.Health.Check)

	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/similar/:productId", a.handlers.Recommendation.Similar)
			recommendations.GET("/personalized/:customerId", a.handlers.Recommendation.Personalized)
			recommendations.GET("/trending", a.handlers.Recommendation.Trending)
			recommendations.GET("/frequently-bought-together/:productId", a.handlers.Recommendation.FrequentlyBoughtTogether)
			recommendations.GET("/recently-viewed/:customerId", a.handlers.Recommendation.RecentlyViewed)
		}

		api.POST("/interactions", a.handlers.Interaction.Track)
	}

	a.router = router
}
