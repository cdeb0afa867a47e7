package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omni/beacon-gateway/internal/billing"
	"github.com/omni/beacon-gateway/internal/channels/telegram"
	"github.com/omni/beacon-gateway/internal/config"
	"github.com/omni/beacon-gateway/internal/dispatch"
	"github.com/omni/beacon-gateway/internal/jwks"
	"github.com/omni/beacon-gateway/internal/nodes"
	otelPkg "github.com/omni/beacon-gateway/internal/otel"
	"github.com/omni/beacon-gateway/internal/plugins"
	"github.com/omni/beacon-gateway/internal/sweep"
	"github.com/omni/beacon-gateway/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "warn: "+format+"\n", args...)
	})
	if err != nil {
		fatalStartup(nil, "config_load", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "logger_init", err)
	}
	defer closer.Close()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "otel_init", err)
	}
	defer otelProvider.Shutdown(ctx)

	gatewayMetrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "metrics_init", err)
	}

	registry := nodes.NewRegistry()

	pluginMgr := plugins.NewManager(logger)
	dirs := cfg.PluginDirs
	if len(dirs) == 0 {
		dirs = plugins.DefaultDirs()
	}
	loadedIDs := pluginMgr.LoadAll(dirs)
	logger.Info("plugins loaded", "count", pluginMgr.Len(), "ids", loadedIDs)

	var jwtCache *jwks.Cache
	if cfg.AuthBaseURL != "" {
		jwtCache = jwks.NewCache(cfg.AuthBaseURL, logger)
	}

	billingState, err := billing.FromEnv(billing.NewHTTPClient)
	if err != nil {
		fatalStartup(logger, "billing_init", err)
	}
	if billingState != nil {
		billingState.Metrics = gatewayMetrics
		logger.Info("aether billing enabled", "fail_mode", cfg.Aether.FailMode)
	}

	telegramRegistry := startTelegram(ctx, cfg.Telegram, logger, gatewayMetrics)

	sweeper, err := sweep.New(sweep.Config{
		Registry:  registry,
		JWKSCache: jwtCache,
		Billing:   billingState,
		Metrics:   gatewayMetrics,
		Logger:    logger,
	})
	if err != nil {
		fatalStartup(logger, "sweep_init", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := dispatch.New(registry, pluginMgr, logger, nil, nil, func() (bool, string) {
		billingMode := "disabled"
		if billingState != nil {
			billingMode = cfg.Aether.FailMode
		}
		jwksStatus := "disabled"
		if jwtCache != nil {
			jwksStatus = "enabled"
		}
		detail := fmt.Sprintf("nodes=%d jwks=%s billing=%s", registry.Len(), jwksStatus, billingMode)
		return true, detail
	})
	srv.SetMetrics(gatewayMetrics)

	// dispatchMux carries the node/plugin routes, unprefixed; it is
	// mounted twice below: as the default handler at its bare paths
	// (/health, /ready, /ws/node, /nodes, /nodes/{id}/invoke, /plugins,
	// ...) and again, admin-gated, under /api/admin/.
	dispatchMux := http.NewServeMux()
	srv.Routes(dispatchMux)

	topMux := http.NewServeMux()
	topMux.Handle("/", dispatchMux)
	topMux.Handle("/api/admin/", http.StripPrefix("/api/admin", dispatch.AdminAuth(cfg.Gateway.AdminAPIKey, dispatchMux)))

	var handler http.Handler = topMux
	if jwtCache != nil {
		handler = billing.Middleware(billingState, jwtCache, logger)(handler)
	}
	handler = telemetry.TraceMiddleware(handler)

	server := &http.Server{
		Addr:    cfg.Gateway.BindAddr,
		Handler: handler,
	}

	serverErr := make(chan error, 1)
	ln, err := net.Listen("tcp", cfg.Gateway.BindAddr)
	if err != nil {
		fatalStartup(logger, "listener_bind", err)
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.Gateway.BindAddr, "ws", "/ws/node")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("telegram accounts connected", "count", telegramRegistry.Len())

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

// startTelegram connects the configured Telegram accounts and starts
// their inbound pollers in the background. Returns the account
// registry even when Telegram is disabled (empty registry) so callers
// can treat it uniformly.
func startTelegram(ctx context.Context, cfg config.TelegramConfig, logger *slog.Logger, metrics *otelPkg.Metrics) *telegram.Registry {
	accounts := telegram.NewRegistry("default")
	if !cfg.Enabled || cfg.Token == "" {
		return accounts
	}

	ch := telegram.New(cfg.Token, logger)
	if err := ch.Connect(ctx); err != nil {
		logger.Error("telegram connect failed", "error", err)
		return accounts
	}

	accountCfg := telegram.AccountConfig{
		BotUsername:            cfg.BotUsername,
		RequireMentionInGroups: cfg.RequireMentionInGroups,
	}
	if len(cfg.AllowedIDs) > 0 {
		accountCfg.AllowedIDs = make(map[int64]struct{}, len(cfg.AllowedIDs))
		for _, id := range cfg.AllowedIDs {
			accountCfg.AllowedIDs[id] = struct{}{}
		}
	}
	accounts.Add("default", ch, accountCfg)
	account, _ := accounts.Default()

	inbound := telegram.NewInbound(account, ch.BotAPI(), logger, func(msg telegram.IncomingMessage) {
		logger.Info("telegram message received", "channel_id", msg.ChannelID, "user_id", msg.UserID)
		if metrics != nil {
			metrics.InboundMessages.Add(ctx, 1)
		}
	})

	go func() {
		if err := inbound.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("telegram inbound loop exited", "error", err)
		}
	}()

	for _, accCfg := range cfg.Accounts {
		extraCh := telegram.New(accCfg.Token, logger)
		if err := extraCh.Connect(ctx); err != nil {
			logger.Error("telegram account connect failed", "error", err)
			continue
		}
		extraAccountCfg := telegram.AccountConfig{
			BotUsername:            accCfg.BotUsername,
			RequireMentionInGroups: accCfg.RequireMentionInGroups,
		}
		if len(accCfg.AllowedIDs) > 0 {
			extraAccountCfg.AllowedIDs = make(map[int64]struct{}, len(accCfg.AllowedIDs))
			for _, id := range accCfg.AllowedIDs {
				extraAccountCfg.AllowedIDs[id] = struct{}{}
			}
		}
		accounts.Add(accCfg.Token, extraCh, extraAccountCfg)
	}

	return accounts
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure [%s]: %s\n", reasonCode, message)
	}
	os.Exit(1)
}
