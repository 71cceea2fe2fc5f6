package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"storybook/internal/ratelimit"
	"storybook/internal/util"
	"storybook/pkg/events"
	"storybook/pkg/storage"
	"storybook/services/storybook/internal/app"
	"storybook/services/storybook/internal/config"
	"storybook/services/storybook/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		publisher = amqpPublisher
	}

	var storyLimiter, messageLimiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		if cfg.StoryRateLimitPerMinute > 0 {
			storyLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "storybook:ratelimit:story", cfg.StoryRateLimitPerMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init story rate limiter: %v", err)
			}
			defer storyLimiter.Close()
		}
		if cfg.MessageRateLimitPerMinute > 0 {
			messageLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "storybook:ratelimit:message", cfg.MessageRateLimitPerMinute, time.Minute)
			if err != nil {
				log.Fatalf("failed to init message rate limiter: %v", err)
			}
			defer messageLimiter.Close()
		}
	} else {
		logger.Warn("redis not configured, rate limiting disabled")
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		Objects:       objects,
		Events:        publisher,
		CurrentUserID: cfg.CurrentUserID,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Warn("close event publisher", "err", err)
		}
	}()

	httpServer, err := server.New(server.Config{
		App:                appCore,
		MaxPhotos:          cfg.MaxPhotos,
		MaxPhotoBytes:      cfg.MaxPhotoBytes,
		AllowedPhotoTypes:  cfg.AllowedPhotoTypes,
		StoryLimiter:       storyLimiter,
		MessageLimiter:     messageLimiter,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("storybook server listening", "addr", addr, "persistent", cfg.DatabaseURL != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("storybook server stopped")
}
