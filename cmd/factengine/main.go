// factengine wires the Driver and its collaborators together from
// configuration, runs the admin HTTP surface, and serves a stdin/stdout
// REPL against Driver.ProcessQuery. Explicit wiring, no init()-based
// globals, following the teacher's cmd/* convention.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgraft/factengine/db"
	"github.com/dgraft/factengine/internal/config"
	"github.com/dgraft/factengine/internal/httpserver"
	"github.com/dgraft/factengine/internal/metrics"
	"github.com/dgraft/factengine/pkg/cache"
	"github.com/dgraft/factengine/pkg/cache/circuitbreaker"
	"github.com/dgraft/factengine/pkg/cache/resilient"
	"github.com/dgraft/factengine/pkg/driver"
	"github.com/dgraft/factengine/pkg/llm"
	"github.com/dgraft/factengine/pkg/shared/logging"
	"github.com/dgraft/factengine/pkg/sqltool"
	"github.com/dgraft/factengine/pkg/sqlvalidator"
	"github.com/dgraft/factengine/pkg/toolexec"
	"github.com/dgraft/factengine/pkg/toolregistry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Component: "factengine"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	conn, err := sql.Open("sqlite3", cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open database", logging.NewFields().Error(err).ToZapFields()...)
	}
	defer conn.Close()

	if err := db.Migrate(conn); err != nil {
		logger.Fatal("failed to apply migrations", logging.NewFields().Error(err).ToZapFields()...)
	}

	engine, err := buildDriver(cfg, conn, logger)
	if err != nil {
		logger.Fatal("failed to wire engine", logging.NewFields().Error(err).ToZapFields()...)
	}
	defer engine.Shutdown()

	adminSrv := startAdminServer(cfg, conn, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runREPL(ctx, engine, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server forced to shutdown", logging.NewFields().Error(err).ToZapFields()...)
	}
}

type engineComponents struct {
	driver *driver.Driver
	cache  *resilient.Cache
}

func (e *engineComponents) Shutdown() { e.driver.Shutdown() }

func buildDriver(cfg *config.Config, conn *sql.DB, logger *logging.Logger) (*engineComponents, error) {
	mgr, err := cache.New(cache.Config{
		MinTokens:    cfg.Cache.MinTokens,
		MaxSizeBytes: cfg.Cache.MaxSizeBytes,
		TTLSeconds:   cfg.Cache.TTLSeconds,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("cache manager: %w", err)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:     cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold:     cfg.CircuitBreaker.SuccessThreshold,
		TimeoutSeconds:       cfg.CircuitBreaker.TimeoutSeconds,
		RollingWindowSeconds: cfg.CircuitBreaker.RollingWindowSeconds,
		RecoveryFactor:       cfg.CircuitBreaker.RecoveryFactor,
	}, logger)

	resilientCache := resilient.New(mgr, breaker, nil, resilient.Config{
		HealthProbeInterval: 30 * time.Second,
	}, logger)

	registry := toolregistry.New(logger)

	validator, err := sqlvalidator.New(sqlvalidator.Config{
		MaxStatementLength:  cfg.SQLValidator.MaxStatementLength,
		MaxNestedSelects:    cfg.SQLValidator.MaxNestedSelects,
		ValidationCacheSize: cfg.SQLValidator.ValidationCacheSize,
	}, conn, logger)
	if err != nil {
		return nil, fmt.Errorf("sql validator: %w", err)
	}

	sqlExecutor := sqltool.New(conn, validator, logger)
	if err := sqlExecutor.RegisterTools(registry); err != nil {
		return nil, fmt.Errorf("register sql tools: %w", err)
	}

	executor := toolexec.New(toolexec.Config{
		MaxCallsPerMinute:     cfg.Executor.MaxCallsPerMinute,
		DefaultTimeoutSeconds: cfg.Executor.DefaultTimeoutSeconds,
	}, registry, nil, nil, logger)

	llmClient, err := llm.NewClient(context.Background(), llm.Config{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		RequestTimeout: cfg.LLM.RequestTimeout,
		AWSRegion:      cfg.LLM.AWSRegion,
	}, os.Getenv("ANTHROPIC_API_KEY"))
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	drv := driver.New(resilientCache, registry, executor, llmClient, logger, driver.Config{
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
	})

	return &engineComponents{driver: drv, cache: resilientCache}, nil
}

func startAdminServer(cfg *config.Config, conn *sql.DB, engine *engineComponents, logger *logging.Logger) *http.Server {
	m := metrics.New(prometheus.DefaultRegisterer)
	handler := httpserver.New(httpserver.Config{
		DB:      conn,
		Health:  engine.cache,
		Metrics: m,
	})

	srv := &http.Server{Addr: ":" + cfg.Admin.Port, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server stopped", logging.NewFields().Error(err).ToZapFields()...)
		}
	}()
	logger.Info("admin server listening", logging.NewFields().Custom("port", cfg.Admin.Port).ToZapFields()...)
	return srv
}

// runREPL reads queries from stdin, one per line, and prints the Driver's
// response to stdout until ctx is cancelled or stdin is closed.
func runREPL(ctx context.Context, engine *engineComponents, logger *logging.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("factengine ready — type a question and press enter (Ctrl-D to exit)")
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		text, err := engine.driver.ProcessQuery(ctx, line)
		if err != nil {
			logger.Error("process query failed", logging.NewFields().Error(err).ToZapFields()...)
			continue
		}
		fmt.Println(text)
	}
}
