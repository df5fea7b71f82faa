// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/auth"
	"github.com/arcadehall/arena/internal/chat"
	"github.com/arcadehall/arena/internal/config"
	"github.com/arcadehall/arena/internal/database"
	"github.com/arcadehall/arena/internal/handlers"
	"github.com/arcadehall/arena/internal/lobby"
	"github.com/arcadehall/arena/internal/match"
	"github.com/arcadehall/arena/internal/middleware"
	"github.com/arcadehall/arena/internal/notify"
	"github.com/arcadehall/arena/internal/queue"
	"github.com/arcadehall/arena/internal/socket"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg := config.Load()

	if cfg.JWTPrivateKeyPath != "" && cfg.JWTPublicKeyPath != "" {
		if err := auth.InitFromPath(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath); err != nil {
			logger.WithError(err).Fatal("failed to load signing keys")
		}
	} else {
		auth.Init()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Postgres")
	}
	defer pool.Close()

	rdb, err := database.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer rdb.Close()

	store := database.NewStore(pool, rdb)
	hub := socket.NewHub(logger)

	notifier := notify.NewService(store, hub, rdb, logger)

	lobbies := lobby.NewManager(store, hub, nil, logger)
	chatSvc := chat.NewService(store, hub, lobbies, logger)
	lobbies.SetChat(chatSvc)

	index := queue.NewIndex()
	coordinator := match.NewCoordinator(store, index, lobbies, notifier, hub, logger, match.Config{
		TickInterval: cfg.TickInterval,
		MinGroupSize: cfg.MinGroupSize,
		MaxQueueAge:  cfg.MaxQueueAge,
	})
	if err := coordinator.Rebuild(ctx); err != nil {
		logger.WithError(err).Fatal("failed to rebuild queue index")
	}

	go coordinator.Run(ctx)
	go notifier.Run(ctx)

	h := &handlers.Handlers{
		Match:   coordinator,
		Lobbies: lobbies,
		Chat:    chatSvc,
		Notify:  notifier,
		Store:   store,
		Hub:     hub,
		Log:     logger,
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.LogMiddleware(logger)(h.Routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server exited")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Drain HTTP first so in-flight requests land on live services, then
	// stop the processor and workers, then the stores via the defers.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http drain incomplete")
	}
	coordinator.Stop()
	notifier.Stop()
	logger.Info("goodbye")
}
