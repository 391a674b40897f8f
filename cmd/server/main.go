package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adventure.app/engine/common/id"
	"adventure.app/engine/common/llm"
	"adventure.app/engine/common/logger"
	"adventure.app/engine/common/otel"
	"adventure.app/engine/core/config"
	"adventure.app/engine/core/db"
	"adventure.app/engine/internal/gateway"
	"adventure.app/engine/internal/imagegen"
	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/planner"
	"adventure.app/engine/internal/question"
	"adventure.app/engine/internal/session"
	"adventure.app/engine/internal/store"
	"adventure.app/engine/internal/telemetry"
	"adventure.app/engine/internal/textgen"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	// OTel must init before logger (logger uses OTel provider in production)
	telemetryProvider, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetryProvider != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "adventure engine starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.RedisStream)

	agentClient, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.Adventure.TextProvider,
		APIKey:   os.Getenv("LLM_API_KEY"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
		Model:    cfg.Adventure.TextModel,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to build llm client", "error", err)
		os.Exit(1)
	}

	textGen := textgen.New(agentClient, 2048)
	imageGen := imagegen.New(os.Getenv("IMAGE_API_KEY"), os.Getenv("IMAGE_BASE_URL"), cfg.Adventure.ImageModel)
	questionSource := question.NewPostgresSource(database.Pool())
	stateStore := store.NewPostgresStore(database.Pool(), cfg.Env)
	telemetrySink := telemetry.NewRedisSink(redisClient, cfg.RedisStream)
	defer telemetrySink.Close()
	chapterPlanner := planner.New()

	newDeps := func() session.Deps {
		return session.Deps{
			Planner:        chapterPlanner,
			TextGen:        textGen,
			ImageGen:       imageGen,
			Questions:      questionSource,
			Store:          stateStore,
			Telemetry:      telemetrySink,
			AgencyCatalog:  model.DefaultAgencyCatalog,
			Environment:    cfg.Env,
			WordDelay:      cfg.Adventure.WordDelay,
			ParagraphDelay: cfg.Adventure.ParagraphDelay,
		}
	}

	gw := gateway.New(gateway.Config{
		Verifier:           gateway.NoopVerifier{},
		Store:              stateStore,
		NewDeps:            newDeps,
		StoryLengthDefault: cfg.Adventure.StoryLengthDefault,
		WriteTimeout:       5 * time.Second,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, gw)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // WebSocket connections are long-lived
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetryProvider != nil {
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, gw *gateway.Gateway) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	gw.RegisterRoutes(router)

	return router
}

const banner = `
   _       _                 _                                 _
  / \   __| |_   _____ _ __ | |_ _   _ _ __ ___    ___ _ __   __ _(_)_ __   ___
 / _ \ / _` + "`" + ` | \ \ / / _ \ '_ \| __| | | | '__/ _ \  / _ \ '_ \ / _` + "`" + ` | | '_ \ / _ \
/ ___ \ (_| |\ V /  __/ | | | |_| |_| | | |  __/ |  __/ | | | (_| | | | | |  __/
/_/   \_\__,_| \_/ \___|_| |_|\__|\__,_|_|  \___|  \___|_| |_|\__, |_|_| |_|\___|
                                                                |___/
`
