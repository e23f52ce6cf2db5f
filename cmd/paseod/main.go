// Command paseod is the unified paseo daemon: one process serving the
// WebSocket session hub, the agent manager, the terminal service, the
// checkout-diff subscription engine, the agent directory, and the per-agent
// MCP self-id bridge, all over a single gin HTTP server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paseohq/paseod/internal/agent"
	"github.com/paseohq/paseod/internal/agent/sandbox"
	"github.com/paseohq/paseod/internal/config"
	"github.com/paseohq/paseod/internal/directory"
	bus "github.com/paseohq/paseod/internal/eventbus"
	"github.com/paseohq/paseod/internal/hoststate"
	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/mcpbridge"
	"github.com/paseohq/paseod/internal/permission"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/provider/claude"
	"github.com/paseohq/paseod/internal/provider/codex"
	"github.com/paseohq/paseod/internal/provider/copilot"
	"github.com/paseohq/paseod/internal/provider/opencode"
	"github.com/paseohq/paseod/internal/rpc"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/subscription"
	"github.com/paseohq/paseod/internal/terminal"
	"github.com/paseohq/paseod/internal/tracing"
	"github.com/paseohq/paseod/internal/wsproto"
)

// version is stamped into the welcome frame's server identity; paseod has
// no build-time version injection yet so this is a fixed placeholder.
const version = "0.1.0"

const permissionTimeoutDefault = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting paseod", zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown error", zap.Error(err))
		}
	}()

	eventBus, err := bus.Provide(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer eventBus.Close()

	state, err := hoststate.Open(cfg.Home.Path)
	if err != nil {
		log.Fatal("failed to open host state", zap.Error(err))
	}
	log.Info("host state opened", zap.String("home", state.Home), zap.String("serverId", state.ServerID))

	if sbx := connectSandbox(ctx, cfg.Docker, log); sbx != nil {
		defer sbx.Close()
	}

	registry := newProviderRegistry(cfg.Providers, log)

	broker := permission.NewBroker(permissionTimeout(cfg.Permission), log)

	dispatcher := wsproto.NewDispatcher()
	hub := session.NewHub(dispatcher, log)

	mgr := agent.NewManager(registry, broker, hub, cfg.Timeline.MaxItemsPerEpoch, log)

	dir := directory.New(hub, log)
	mgr.SetDirectoryObserver(dir.Update)

	bridge := mcpbridge.New(filepath.Join(state.Home, "mcp"), mgr, log)
	defer bridge.CloseAll()
	mgr.SetBridgeSocketPath(func(agentID string) string {
		path, err := bridge.Serve(ctx, agentID)
		if err != nil {
			log.Warn("failed to serve mcp self-id bridge", zap.String("agentId", agentID), zap.Error(err))
			return ""
		}
		return path
	})

	terminals := terminal.NewService(hub, log)
	subEngine := subscription.NewEngine(hub, log)

	rpc.Register(dispatcher, rpc.Deps{
		Agents:       mgr,
		Terminals:    terminals,
		Subscription: subEngine,
		Directory:    dir,
		Logger:       log,
	})

	gateway := session.NewGateway(hub, state.ServerID, version, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	gateway.SetupRoutes(router)
	router.GET("/download", handleDownload(log))

	httpServer := &http.Server{
		Addr:    cfg.Listen.Addr,
		Handler: router,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		log.Info("paseod listening", zap.String("addr", cfg.Listen.Addr))
		var err error
		if path, ok := strings.CutPrefix(cfg.Listen.Addr, "unix:"); ok {
			ln, lerr := net.Listen("unix", path)
			if lerr != nil {
				return fmt.Errorf("http server: %w", lerr)
			}
			err = httpServer.Serve(ln)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("paseod exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("paseod stopped")
}

// connectSandbox connects to Docker when sandboxing is enabled, logging a
// warning and returning nil rather than failing startup when the daemon is
// unreachable — mirroring the teacher's "agent features disabled" fallback.
func connectSandbox(ctx context.Context, cfg config.DockerConfig, log *logger.Logger) *sandbox.Client {
	if !cfg.Enabled {
		return nil
	}
	cli, err := sandbox.NewClient(cfg, log)
	if err != nil {
		log.Warn("sandbox disabled: failed to create docker client", zap.Error(err))
		return nil
	}
	if err := cli.Ping(ctx); err != nil {
		log.Warn("sandbox disabled: docker daemon unreachable", zap.Error(err))
		return nil
	}
	log.Info("docker sandbox available")
	return cli
}

func permissionTimeout(cfg config.PermissionConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return permissionTimeoutDefault
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

// newProviderRegistry registers every built-in provider adapter, each
// enabled unconditionally; spec §3.1 leaves the provider set open-ended but
// paseod ships these four.
func newProviderRegistry(cfg config.ProvidersConfig, log *logger.Logger) *provider.Registry {
	reg := provider.NewRegistry(log)

	reg.Register(provider.Descriptor{
		ID: provider.TagClaude, Name: "Claude Code", Command: cfg.Claude.Command, Enabled: true,
	}, claude.New(claude.Config{Command: cfg.Claude.Command, Args: cfg.Claude.Args, Env: cfg.Claude.Env}))

	reg.Register(provider.Descriptor{
		ID: provider.TagCodex, Name: "Codex", Command: cfg.Codex.Command, Enabled: true,
	}, codex.New(codex.Config{Command: cfg.Codex.Command, Args: cfg.Codex.Args, Env: cfg.Codex.Env}))

	reg.Register(provider.Descriptor{
		ID: provider.TagOpenCode, Name: "OpenCode", Command: cfg.OpenCode.Command, Enabled: true,
	}, opencode.New(opencode.Config{Command: cfg.OpenCode.Command, Args: cfg.OpenCode.Args, Env: cfg.OpenCode.Env}))

	reg.Register(provider.Descriptor{
		ID: provider.TagCopilot, Name: "GitHub Copilot", Command: cfg.Copilot.Command, Enabled: true,
	}, copilot.New(copilot.Config{}, log))

	return reg
}

// handleDownload serves the plain HTTP GET side of request_download_token:
// a client exchanges a short-lived token minted over the WebSocket for the
// file it names, without needing to carry its WebSocket session here.
func handleDownload(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
			return
		}
		path, ok := rpc.ResolveDownloadToken(token)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown or expired token"})
			return
		}
		log.Debug("serving download", zap.String("path", path))
		c.FileAttachment(path, filepath.Base(path))
	}
}
