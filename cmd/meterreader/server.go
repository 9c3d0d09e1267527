package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/septivank/meter-reading-service/internal/analyzer"
	"github.com/septivank/meter-reading-service/internal/anomaly"
	"github.com/septivank/meter-reading-service/internal/config"
	"github.com/septivank/meter-reading-service/internal/db"
	"github.com/septivank/meter-reading-service/internal/httpapi"
	"github.com/septivank/meter-reading-service/internal/metrics"
	"github.com/septivank/meter-reading-service/internal/mq"
	"github.com/septivank/meter-reading-service/internal/repository"
	"github.com/septivank/meter-reading-service/internal/service"
	"github.com/septivank/meter-reading-service/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// bodyOverhead is the room left for JSON fields around the base64 image
const bodyOverhead = 1 << 20

func startServer(lc fx.Lifecycle, cfg *config.Config, router *gin.Engine, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}

			logger.Info("starting http server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("failed to shut down http server", zap.Error(err))
				return err
			}
			logger.Info("http server stopped gracefully")
			return nil
		},
	})

	return srv
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, int32(cfg.Database.MaxConns))
}

// runMigrations applies the schema on start when DATABASE_AUTO_MIGRATE is set
func runMigrations(lc fx.Lifecycle, logger *zap.Logger, pool *db.Pool, cfg *config.Config) {
	db.AutoMigrate(lc, logger, pool, cfg.Database.AutoMigrate)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Image.MaxBase64Length)
}

// ProvideAnomalyDetector creates the confirmation tolerance check
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Confirmation.Tolerance)
}

// ProvideMetrics returns nil when metrics are disabled
func ProvideMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

// ProvideAnalyzer creates the image analyzer backed by the configured provider
func ProvideAnalyzer(cfg *config.Config, logger *zap.Logger) (service.ImageAnalyzer, error) {
	provider, err := analyzer.NewOpenAIProvider(analyzer.OpenAIConfig{
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Provider.Model,
		Temperature: float32(cfg.Provider.Temperature),
		TopP:        float32(cfg.Provider.TopP),
		MaxTokens:   cfg.Provider.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	bounds := analyzer.Bounds{Min: cfg.Reading.MinValue, Max: cfg.Reading.MaxValue}
	return analyzer.NewAnalyzer(provider, bounds, cfg.Provider.Timeout, logger.Named("analyzer")), nil
}

// ProvidePublisher connects to RabbitMQ, or drops events when RABBITMQ_URL is empty
func ProvidePublisher(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (mq.EventPublisher, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RABBITMQ_URL not set, measure events are disabled")
		return mq.NopPublisher{}, nil
	}

	conn, err := mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}

	// appended after the connection hook, so it stops first
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideMeasurementService creates the measurement lifecycle service
func ProvideMeasurementService(
	repo *repository.Repository,
	imageAnalyzer service.ImageAnalyzer,
	publisher mq.EventPublisher,
	v *validator.Validator,
	detector *anomaly.Detector,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *service.MeasurementService {
	return service.NewMeasurementService(repo, imageAnalyzer, publisher, v, detector, m, cfg, logger)
}

// ProvideRouter builds the HTTP router
func ProvideRouter(svc *service.MeasurementService, m *metrics.Metrics, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	return httpapi.NewRouter(
		httpapi.NewHandler(svc, logger),
		httpapi.RouterConfig{
			MaxBodyBytes: int64(cfg.Image.MaxBase64Length) + bodyOverhead,
			Metrics:      m,
		},
		logger,
	)
}
