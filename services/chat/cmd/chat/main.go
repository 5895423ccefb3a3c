package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chathub/internal/servicetoken"
	"chathub/internal/usertoken"
	"chathub/internal/util"
	"chathub/services/chat/internal/app"
	"chathub/services/chat/internal/bootstrap"
	"chathub/services/chat/internal/config"
	"chathub/services/chat/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel, "chat")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		util.Fatal("failed to init runtime", "err", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("runtime close", "err", err)
		}
	}()

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init jwks verifier", "err", err)
	}

	var internalVerifier server.ServiceVerifier
	if cfg.InternalJWTPublicKeyPath != "" || cfg.InternalJWTVerifyKeys != "" {
		keyPaths, err := servicetoken.ParseKeyPaths(cfg.InternalJWTVerifyKeys)
		if err != nil {
			util.Fatal("failed to parse internal verify keys", "err", err)
		}
		v, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
			PublicKeyPath:  cfg.InternalJWTPublicKeyPath,
			KeyPaths:       keyPaths,
			DefaultKeyID:   cfg.InternalJWTKeyID,
			Audience:       cfg.InternalJWTAudience,
			AllowedIssuers: cfg.InternalJWTAllowedIssuers,
			Leeway:         jwtLeeway,
		})
		if err != nil {
			util.Fatal("failed to init internal token verifier", "err", err)
		}
		internalVerifier = v
	} else {
		logger.Warn("internal service tokens not configured; /api/cron/digest is disabled")
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy cidrs", "err", err)
	}

	if _, err := rt.App.EnsureBotProfile(ctx); err != nil {
		logger.Warn("bot profile bootstrap failed", "err", err)
	}

	go func() {
		if err := rt.Broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event relay stopped", "err", err)
		}
	}()
	rt.Queue.Start(ctx, cfg.QueueConcurrency, rt.App.HandleJob)

	if cfg.DigestSchedule != "" {
		lock, err := app.NewRedisTickLock(rt.Redis, "")
		if err != nil {
			util.Fatal("failed to init digest tick lock", "err", err)
		}
		scheduler, err := app.NewDigestScheduler(rt.App, cfg.DigestSchedule, lock)
		if err != nil {
			util.Fatal("failed to init digest schedule", "err", err)
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				logger.Error("digest scheduler stopped", "err", err)
			}
		}()
		logger.Info("digest schedule enabled", "expr", cfg.DigestSchedule)
	}

	httpServer, err := server.New(server.Config{
		App:            rt.App,
		Identity:       tokenVerifier,
		Internal:       internalVerifier,
		Events:         rt.Broadcaster,
		TrustedProxies: trusted,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// Requests drain before the deferred runtime close, which finishes the
	// queued bot jobs before the event relay and redis go away.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
	}()

	slog.Info("chat server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
		stop()
	}
	<-shutdownDone
	logger.Info("draining bot jobs")
}
