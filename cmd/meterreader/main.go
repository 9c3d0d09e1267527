package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/meter-reading-service/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

func main() {
	loadEnvFile()

	// config is loaded once up front so the shutdown timeout is known
	// before the container starts
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	startupLogger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.WithLogger(fxLogger),
		fx.Provide(
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideValidator,
			ProvideAnomalyDetector,
			ProvideMetrics,
			ProvideAnalyzer,
			ProvidePublisher,
			ProvideMeasurementService,
			ProvideRouter,
		),
		fx.Invoke(runMigrations, startServer),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startupLogger.Info("starting application...", zap.Duration("timeout", startTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			startupLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means a dependency (Database or RabbitMQ) is not accessible. Check the error messages above for specific connection failures.")
		}
		startupLogger.Fatal("application failed to start", zap.Error(err))
	}

	// Wait for interrupt signal
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		startupLogger.Error("error stopping app", zap.Error(err))
	}
}

// loadEnvFile loads the first .env found in the working directory or its parents.
// Containers usually have none and rely on the environment.
func loadEnvFile() {
	envPaths := []string{
		".env",
		"../../.env", // running from bin/
	}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Printf("Loaded environment from: %s\n", absPath)
			return
		}
	}

	fmt.Println("No .env file found, using system environment variables (OK for pods/containers)")
}
