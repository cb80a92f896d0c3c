package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-chat/backend/internal/config"
	"github.com/zhouzirui/z-chat/backend/internal/handler"
	"github.com/zhouzirui/z-chat/backend/internal/logging"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	"github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/controller"
	"github.com/zhouzirui/z-chat/backend/internal/service/persistence"
	"github.com/zhouzirui/z-chat/backend/internal/service/tools"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := tools.NewBuiltinRegistry(cfg.AI.Tools...)
	logger.Info("tools registered", zap.Strings("tools", registry.Names()))

	gateway, err := newGateway(ctx, cfg.AI, registry, logger)
	if err != nil {
		return err
	}

	blobs, closeBlobs, err := openBlobStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeBlobs()

	chatService := chat.NewService(chat.Config{
		Gateway:     gateway,
		Tools:       registry,
		Persistence: persistence.NewAdapter(blobs, logger),
		Defaults:    cfg.Session.Defaults,
		Options: controller.Options{
			MaxAttachmentBytes: cfg.Session.MaxAttachmentBytes,
			CompletionTimeout:  cfg.Session.CompletionTimeout,
		},
		Logger: logger,
	})
	defer chatService.Close()

	router := handler.NewRouter(chatService, gateway, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Z Chat backend listening", zap.String("addr", cfg.Server.Addr))
	return runServer(ctx, srv, cfg.Server.ShutdownTimeout)
}

// newGateway 按配置选择补全服务：Ark、Gemini 或离线回显
func newGateway(ctx context.Context, cfg config.AIConfig, registry *tools.Registry, logger *zap.Logger) (ai.Gateway, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("init ark chat model: %w", err)
		}
		logger.Info("AI gateway initialized", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
		return ai.NewEinoGateway(chatModel,
			ai.WithDefaultModel(cfg.Model),
			ai.WithToolRegistry(registry),
			ai.WithCostPer1KTokens(cfg.CostPer1KTokens),
			ai.WithLogger(logger),
		), nil
	case config.ProviderGenAI:
		gateway, err := ai.NewGenAIGateway(ctx, ai.GenAIConfig{
			APIKey:          cfg.GenAIAPIKey,
			Model:           cfg.GenAIModel,
			CostPer1KTokens: cfg.CostPer1KTokens,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init genai client: %w", err)
		}
		logger.Info("AI gateway initialized", zap.String("provider", cfg.Provider), zap.String("model", cfg.GenAIModel))
		return gateway, nil
	default:
		logger.Warn("no model credentials configured, replies will echo the user")
		return ai.EchoGateway{}, nil
	}
}

func openBlobStore(cfg config.StorageConfig) (persistence.BlobStore, func(), error) {
	if cfg.Backend != config.StorageSQLite {
		return persistence.NewMemoryBlobStore(), func() {}, nil
	}

	store, err := persistence.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
