package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sunqi/platform-mcp/internal/cleanup"
	"github.com/sunqi/platform-mcp/internal/common"
	"github.com/sunqi/platform-mcp/internal/config"
	mcptools "github.com/sunqi/platform-mcp/internal/mcp"
	"github.com/sunqi/platform-mcp/internal/registry"
	"github.com/sunqi/platform-mcp/internal/service"
	"github.com/sunqi/platform-mcp/internal/watcher"
)

func main() {
	stdio := flag.Bool("stdio", false, "Use stdio transport (for desktop agents)")
	configFile := flag.String("config", "platform-mcp.toml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := common.NewLoggerFromConfig(cfg.Logging)

	mcpServer := server.NewMCPServer(
		cfg.Server.Name,
		common.GetVersion(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)

	reg := registry.New(logger)
	mcptools.RegisterResources(mcpServer, reg)

	ensureServicesDir(cfg.Services.Dir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(cfg.Services.Dir, cfg.PollInterval(), reg, mcpServer, logger)
	loaded := w.Scan()
	logger.Info().
		Int("services", loaded).
		Str("dir", cfg.Services.Dir).
		Msg("initial service scan complete")
	go w.Run(ctx)

	if cfg.Cleanup.Enabled {
		cleaner := cleanup.New(cfg.Cleanup.Dir, cfg.CleanupMaxAge(), logger)
		if err := cleaner.Start(cfg.Cleanup.Schedule); err != nil {
			logger.Warn().Str("error", err.Error()).Msg("failed to schedule file cleanup")
		} else {
			defer cleaner.Stop()
		}
	}

	if *stdio {
		if err := server.ServeStdio(mcpServer); err != nil {
			fmt.Fprintf(os.Stderr, "stdio server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithStateLess(true),
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Str("error", err.Error()).Msg("shutdown error")
		}
	}()

	logger.Info().Str("addr", addr).Msg("starting MCP streamable HTTP server")
	if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "http server error: %v\n", err)
		os.Exit(1)
	}
}

// ensureServicesDir creates the services directory if missing and drops an
// example definition into it when it holds no *.json file, so a fresh
// deployment has a template to start from.
func ensureServicesDir(dir string, logger *common.Logger) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn().Str("dir", dir).Str("error", err.Error()).Msg("failed to create services directory")
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			return
		}
	}

	templatePath := filepath.Join(dir, "example.json")
	if err := service.WriteTemplate(templatePath); err != nil {
		logger.Warn().Str("file", templatePath).Str("error", err.Error()).Msg("failed to write service template")
		return
	}
	logger.Warn().
		Str("file", templatePath).
		Msg("no service definitions found, wrote disabled example template")
}
