// Package main запускает HTTP-сервер магазина игровой валюты.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/topup-store/internal/adlock"
	"github.com/mmeshcher/topup-store/internal/config"
	"github.com/mmeshcher/topup-store/internal/handler"
	"github.com/mmeshcher/topup-store/internal/middleware"
	"github.com/mmeshcher/topup-store/internal/orders"
	"github.com/mmeshcher/topup-store/internal/repository"
	"github.com/mmeshcher/topup-store/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var orderClient service.OrderClient
	if cfg.OrderServiceAddress != "" {
		orderClient = orders.NewClient(cfg.OrderServiceAddress)
	}

	var locker adlock.Locker
	if cfg.RedisAddress != "" {
		locker = adlock.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddress}))
	} else {
		locker = adlock.NewMemory()
	}

	svc := service.NewService(repo, orderClient, locker, logger, service.Options{
		AdLockTTL:     cfg.AdLockTTL,
		PurchaseLimit: cfg.PurchaseLimit,
	})
	defer svc.Close()

	secret := cfg.SessionSecret
	if secret == "" {
		secret = "topup-store-secret"
	}
	authMiddleware := middleware.NewAuthMiddleware(secret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AdminToken)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового процесса опроса статусов заказов
	g.Go(func() error {
		svc.StartFulfillmentUpdates(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting topup-store server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
