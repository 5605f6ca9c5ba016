package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/mocktarget"
	"github.com/kursadbilgin/webhook-dispatcher/internal/observability"
	"go.uber.org/zap"
)

type config struct {
	Port        int    `env:"PORT,default=9090"`
	JWKSURL     string `env:"DISPATCHER_JWKS_URL"`
	TokenIssuer string `env:"TOKEN_ISSUER,default=webhookdispatcher"`
	SlowDelayMS int    `env:"SLOW_DELAY_MS,default=3000"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func main() {
	var cfg config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger("mock-target", cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	var verifier mocktarget.TokenVerifier
	if strings.TrimSpace(cfg.JWKSURL) != "" {
		v, err := mocktarget.NewVerifier(cfg.JWKSURL, cfg.TokenIssuer, nil)
		if err != nil {
			logger.Fatal("verifier initialization failed", zap.Error(err))
		}
		verifier = v
	} else {
		logger.Warn("DISPATCHER_JWKS_URL not set, accepting unsigned deliveries")
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	mocktarget.NewServer(verifier, time.Duration(cfg.SlowDelayMS)*time.Millisecond, logger).Register(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("mock target started",
		zap.String("addr", addr),
		zap.Strings("routes", []string{"POST /webhook/success", "POST /webhook/fail", "POST /webhook/slow", "GET /stats"}),
	)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("mock target stopped with error", zap.Error(err))
	}
}
