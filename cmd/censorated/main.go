package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nispor/censorate/internal/api"
	"github.com/nispor/censorate/internal/auth"
	"github.com/nispor/censorate/internal/commander"
	"github.com/nispor/censorate/internal/config"
	"github.com/nispor/censorate/internal/event"
	"github.com/nispor/censorate/internal/events"
	"github.com/nispor/censorate/internal/lock"
	"github.com/nispor/censorate/internal/log"
	"github.com/nispor/censorate/internal/pluginconn"
	"github.com/nispor/censorate/internal/role"
	"github.com/nispor/censorate/internal/storage"
	"github.com/nispor/censorate/internal/switchboard"
	"github.com/nispor/censorate/internal/webhook"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(runDaemon(os.Args[1:]))
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("censorated", flag.ContinueOnError)
	configPath := fs.String("config", "/etc/censorate/censorated.yaml", "Path to daemon configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("censorated starting", "version", version, "config", *configPath, "config_digest", cfg.Digest)

	pidLock, err := lock.AcquirePIDLock(cfg.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", cfg.PIDFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var audit *storage.Audit
	if cfg.AuditDB != "" {
		audit, err = storage.Open(ctx, cfg.AuditDB)
		if err != nil {
			logger.Error("failed to open audit database", "path", cfg.AuditDB, "error", err)
			return 1
		}
		defer audit.Close()
		logger.Info("audit log opened", "path", cfg.AuditDB)
	}

	if err := os.MkdirAll(cfg.SocketDir, 0o755); err != nil {
		logger.Error("failed to create socket directory", "path", cfg.SocketDir, "error", err)
		return 1
	}

	registry := role.NewRegistry()
	hub := events.NewHub(256)

	toCommander := make(chan event.Event, 64)
	fromCommander := make(chan event.Event, 64)

	cmdOpts := []commander.Option{
		commander.WithLogger(log.WithComponent("commander")),
		commander.WithLogHub(hub),
	}
	if audit != nil {
		cmdOpts = append(cmdOpts, commander.WithAudit(audit))
	}
	cmd := commander.New(toCommander, fromCommander, registry, cmdOpts...)

	sw := switchboard.New(registry, toCommander, log.WithComponent("switch"))

	pluginListener, err := listenUnix(cfg.PluginSocketPath())
	if err != nil {
		logger.Error("failed to listen on plugin socket", "path", cfg.PluginSocketPath(), "error", err)
		return 1
	}
	defer pluginListener.Close()
	pluginAcceptor := pluginconn.NewAcceptor(pluginListener, sw, log.WithComponent("pluginconn"))

	userListener, err := listenUnix(cfg.UserSocketPath())
	if err != nil {
		logger.Error("failed to listen on user socket", "path", cfg.UserSocketPath(), "error", err)
		return 1
	}
	defer userListener.Close()
	userAcceptor := pluginconn.NewUserAcceptor(userListener, sw, toCommander, log.WithComponent("pluginconn"))

	errCh := make(chan error, 4)

	go cmd.Run(ctx)

	go func() {
		for evt := range fromCommander {
			sw.Route(evt)
		}
	}()

	go func() {
		if err := pluginAcceptor.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("plugin acceptor: %w", err)
		}
	}()

	go func() {
		if err := userAcceptor.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("user acceptor: %w", err)
		}
	}()

	if cfg.API.Enabled {
		var auditReader api.AuditReader = noopAudit{}
		if audit != nil {
			auditReader = audit
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.APIKey,
			Tokens: []auth.TokenConfig{},
		}, registry, cmd, auditReader, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("introspection API enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhook.Enabled {
		webhookServer := webhook.New(webhook.Config{
			Listen: cfg.Webhook.Listen,
			Secret: cfg.Webhook.Secret,
		}, toCommander, log.WithComponent("webhook"))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook lease endpoint enabled", "listen", cfg.Webhook.Listen)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("censorated running", "plugin_socket", cfg.PluginSocketPath(), "user_socket", cfg.UserSocketPath())

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("censorated stopped")
	return 0
}

// noopAudit backs the introspection API's /audit route when the audit
// log is disabled, instead of handing it a nil *storage.Audit.
type noopAudit struct{}

func (noopAudit) Recent(ctx context.Context, limit int) ([]storage.Entry, error) {
	return nil, nil
}

// listenUnix binds a Unix domain socket at path, removing any stale
// socket file left behind by a previous, uncleanly terminated run.
func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return l, nil
}
