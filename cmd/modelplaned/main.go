package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/go-redis/redis/v8"

	app "github.com/playforge-studio/modelplane/internal/app"
	"github.com/playforge-studio/modelplane/internal/app/httpapi"
	"github.com/playforge-studio/modelplane/internal/app/storage/postgres"
	"github.com/playforge-studio/modelplane/internal/app/storage/postgres/migrations"
	"github.com/playforge-studio/modelplane/internal/config"
	"github.com/playforge-studio/modelplane/internal/platform/database"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	adminTokensFlag := flag.String("admin-tokens", "", "comma-separated admin shared-secret tokens (appended to ADMIN_API_TOKENS)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	appLog := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	rootCtx := context.Background()

	stores := app.Stores{}

	var db *sql.DB
	dsnVal := resolveDSN(*dsn, cfg)
	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(db, cfg)
		if *runMigrations {
			if err := migrations.Apply(rootCtx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		store := postgres.New(db)
		stores = app.Stores{
			Registry:   store,
			Log:        store,
			Deployment: store,
			Snapshot:   store,
			Violation:  store,
			FineTune:   store,
		}
	}
	if db != nil {
		defer db.Close()
	}

	runtime := buildRuntimeConfig(rootCtx, cfg, appLog)

	application, err := app.New(stores, appLog, app.WithRuntimeConfig(runtime))
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	listenAddr := determineAddr(*addr, cfg)
	tokens := resolveAdminTokens(*adminTokensFlag, cfg)

	httpService := httpapi.NewService(application, listenAddr, tokens, appLog, db)
	application.Attach(httpService)

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	appLog.Infof("modelplaned listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

// buildRuntimeConfig resolves the external integrations app.New needs from
// cfg: hosted LLM provider credentials pass through directly, while the AWS
// and Redis clients are constructed here so application.go never imports an
// SDK config loader itself. The S3 and SageMaker clients are only built when
// fine-tuning has a bucket or an execution role configured, respectively; the
// Bedrock client is built whenever the AWS SDK config loads.
func buildRuntimeConfig(ctx context.Context, cfg *config.Config, log *logger.Logger) app.RuntimeConfig {
	runtime := app.RuntimeConfig{
		AnthropicAPIKey:          cfg.Anthropic.APIKey,
		OpenRouterAPIKey:         cfg.OpenRouter.APIKey,
		HuggingFaceToken:         cfg.HuggingFace.APIKey,
		ResponseCacheTTL:         cfg.ResponseCache.TTL,
		CircuitFailureThreshold:  5,
		CircuitTimeoutSeconds:    30,
		FineTuneBucket:           cfg.FineTuning.S3Bucket,
		SageMakerRoleARN:         cfg.FineTuning.SageMakerRoleARN,
		SageMakerOutputBucket:    cfg.FineTuning.SageMakerOutputBucket,
		MetaLoopUseCases:         cfg.MetaLoop.UseCases,
		MetaLoopCheckInterval:    cfg.MetaLoop.CheckInterval,
		MetaLoopRecoveryInterval: cfg.MetaLoop.RecoveryInterval,
		MetaLoopAggregateWindow:  cfg.MetaLoop.AggregateWindow,
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Bedrock.Region))
	if err != nil {
		log.Warnf("aws sdk config unavailable, bedrock/sagemaker/s3 backends disabled: %v", err)
		return withResponseCache(runtime, cfg, log)
	}

	runtime.BedrockClient = bedrockruntime.NewFromConfig(awsCfg)

	if cfg.FineTuning.S3Bucket != "" {
		runtime.S3Client = s3.NewFromConfig(awsCfg)
	}
	if cfg.FineTuning.SageMakerRoleARN != "" {
		runtime.SageMakerClient = sagemaker.NewFromConfig(awsCfg)
	}

	return withResponseCache(runtime, cfg, log)
}

func withResponseCache(runtime app.RuntimeConfig, cfg *config.Config, log *logger.Logger) app.RuntimeConfig {
	if addr := strings.TrimSpace(cfg.ResponseCache.RedisAddr); addr != "" {
		runtime.RedisClient = redis.NewClient(&redis.Options{Addr: addr})
	} else {
		log.Info("REDIS_ADDR not configured; response cache running in-process only")
	}
	return runtime
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if addr := strings.TrimSpace(flagAddr); addr != "" {
		return addr
	}
	return cfg.Server.Addr()
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	return strings.TrimSpace(cfg.Database.DSN)
}

func resolveAdminTokens(flagTokens string, cfg *config.Config) []string {
	tokens := append([]string{}, cfg.Admin.Tokens...)
	tokens = append(tokens, splitTokens(flagTokens)...)
	return tokens
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}
