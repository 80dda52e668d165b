// Package main is the entry point for the upswatch server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jamesprial/upswatch/internal/api"
	"github.com/jamesprial/upswatch/internal/app"
	"github.com/jamesprial/upswatch/internal/audit"
	"github.com/jamesprial/upswatch/internal/auth"
	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/jobctl"
	"github.com/jamesprial/upswatch/internal/logging"
	"github.com/jamesprial/upswatch/internal/metrics"
	"github.com/jamesprial/upswatch/internal/notify"
	"github.com/jamesprial/upswatch/internal/pause"
	"github.com/jamesprial/upswatch/internal/tools"
	"github.com/jamesprial/upswatch/internal/ups"
)

const (
	defaultConfigPath = "/config/upswatch.yaml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:]))
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "upswatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := configPath()
	cfg, loadErr := loadConfig(path)
	config.ApplyEnvOverrides(cfg)

	base := logging.New(cfg.Logging.Level, logging.Format(cfg.Logging.Format))
	defer func() { _ = base.Sync() }()
	logger := base.Sugar()

	if loadErr != nil {
		logger.Warnw("could not load config, using defaults", "path", path, "error", loadErr)
	} else {
		logger.Infow("loaded config", "path", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		logger.Warnw("could not generate auth token, running without authentication", "error", err)
	} else if tokenBefore == "" && token != "" {
		logger.Infow("generated auth token (set UPSWATCH_AUTH_TOKEN to persist)", "token", token)
	}

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		f, err := os.OpenFile(cfg.Audit.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			logger.Warnw("could not open audit log, audit logging disabled", "path", cfg.Audit.LogPath, "error", err)
		} else {
			auditLogger = audit.NewLogger(f)
			defer f.Close()
		}
	}

	metrics.Init()

	job, err := jobctl.NewHTTPClient(cfg.Job)
	if err != nil {
		return fmt.Errorf("job client: %w", err)
	}
	coord := pause.NewCoordinator(job, auditLogger, base.Named("pause").Sugar())

	broker := notify.NewSSEBroker()
	bus := notify.NewEventBus()
	bus.SubscribeStatusChanged(broker.OnStatusChanged)
	bus.SubscribeStatusChanged(notify.LogSubscriber(base.Named("events").Sugar()))
	var hook *notify.WebhookChannel
	if cfg.Events.WebhookURL != "" {
		hook, err = notify.NewWebhookChannel(cfg.Events.WebhookURL, notify.WithLogger(base.Named("webhook").Sugar()))
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		bus.SubscribeStatusChanged(hook.Enqueue)
	}
	publisher := notify.NewPublisher(nil, base.Named("notify").Sugar(), broker, bus)

	monLogger := base.Named("ups").Sugar()
	conn := ups.NewConnectionManager(ups.DialNUT, monLogger)
	monitor := ups.NewMonitor(conn, publisher, coord, cfg.Settings(), cfg.Poll.Interval, monLogger)
	publisher.SetLatestSource(monitor)

	svc := app.NewService(monitor, publisher, logger)

	mcpServer := server.NewMCPServer(
		"upswatch",
		version,
		server.WithToolCapabilities(false),
	)
	names := tools.RegisterAll(mcpServer, ups.UPSTools(monitor, auditLogger))
	logger.Infow("registered MCP tools", "tools", names)

	handler, err := api.NewHandler(monitor, svc, coord, notify.NewStreamHandler(broker, svc.ClientAttached), auditLogger, base.Named("api").Sugar())
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer, server.WithHTTPContextFunc(auth.HTTPContextFunc)))
	handler.Register(mux)

	authMiddleware := auth.NewAuthMiddleware(cfg.Server.AuthToken, []byte(cfg.Server.JWTSecret))

	root := http.NewServeMux()
	root.Handle("/metrics", promhttp.Handler())
	root.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	root.Handle("/", authMiddleware(mux))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(root, base.Named("http").Sugar()),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := svc.Startup(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return svc.Shutdown()
	})

	g.Go(func() error {
		logger.Infow("upswatch listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if hook != nil {
		g.Go(func() error { return hook.Run(ctx) })
	}

	if loadErr == nil {
		watcher := config.NewWatcher(path, svc.ApplyConfig, base.Named("config").Sugar())
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil {
				logger.Warnw("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// runToken prints an HS256 role token signed with the configured JWT secret.
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	role := fs.String("role", string(auth.RoleViewer), "role claim: viewer, operator or admin")
	subject := fs.String("subject", "", "subject claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	r, ok := auth.NormalizeRole(*role)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		return 2
	}

	cfg, _ := loadConfig(configPath())
	config.ApplyEnvOverrides(cfg)
	if cfg.Server.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "server.jwt_secret (or UPSWATCH_JWT_SECRET) is not set")
		return 1
	}

	tok, err := auth.SignJWT([]byte(cfg.Server.JWTSecret), r, *subject, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		return 1
	}
	fmt.Println(tok)
	return 0
}

// configPath returns UPSWATCH_CONFIG_PATH or the default /config/upswatch.yaml.
func configPath() string {
	if path := os.Getenv("UPSWATCH_CONFIG_PATH"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the config file at path. If it cannot be read,
// DefaultConfig is returned along with the error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.DefaultConfig(), err
	}
	return cfg, nil
}
