// Package watcher polls a directory of service definition files and drives
// registration and tool binding when file contents change.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sunqi/platform-mcp/internal/common"
	mcptools "github.com/sunqi/platform-mcp/internal/mcp"
	"github.com/sunqi/platform-mcp/internal/registry"
	"github.com/sunqi/platform-mcp/internal/service"
)

// Watcher re-runs the parse/register/bind pipeline for every *.json file
// whose content hash changed since the last scan. Files that disappear are
// logged only; their registrations stay live until superseded.
type Watcher struct {
	dir      string
	interval time.Duration
	registry *registry.Registry
	server   *server.MCPServer
	logger   *common.Logger

	mu     sync.Mutex
	hashes map[string]string   // file path -> content hash
	bound  map[string][]string // service name -> bound tool names
}

// New creates a watcher over dir that registers into reg and binds tools
// onto srv.
func New(dir string, interval time.Duration, reg *registry.Registry, srv *server.MCPServer, logger *common.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		interval: interval,
		registry: reg,
		server:   srv,
		logger:   logger,
		hashes:   make(map[string]string),
		bound:    make(map[string][]string),
	}
}

// Run scans on the fixed interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("config watcher stopped")
			return
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan walks the directory once and returns how many files were (re)loaded.
// Parse and IO failures for one file never abort the scan of others.
func (w *Watcher) Scan() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn().Str("dir", w.dir).Str("error", err.Error()).Msg("failed to read services directory")
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool)
	changed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		seen[path] = true

		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn().Str("file", path).Str("error", err.Error()).Msg("failed to read service file")
			continue
		}

		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if w.hashes[path] == hash {
			continue
		}

		def, cfg, err := service.Parse(data)
		if err != nil {
			// Record the hash so the same broken content is logged once,
			// not on every scan. A fix changes the hash and is retried.
			w.hashes[path] = hash
			w.logger.Warn().Str("file", path).Str("error", err.Error()).Msg("skipping invalid service file")
			continue
		}

		w.registerLocked(def, cfg)
		w.hashes[path] = hash
		changed++
	}

	for path := range w.hashes {
		if !seen[path] {
			delete(w.hashes, path)
			w.logger.Info().Str("file", path).Msg("service file removed, keeping existing registration")
		}
	}

	return changed
}

// registerLocked registers one parsed definition and rebinds its tools.
// Must be called with mu held.
func (w *Watcher) registerLocked(def *service.ServiceDefinition, cfg *service.ServiceConfig) {
	w.registry.Register(def, cfg)
	if !def.Enabled {
		return
	}

	if old := w.bound[def.Name]; len(old) > 0 {
		w.server.DeleteTools(old...)
	}
	w.bound[def.Name] = mcptools.RegisterServiceTools(w.server, w.registry, def, w.logger)
}

// BoundTools returns the tool names currently bound for a service.
func (w *Watcher) BoundTools(serviceName string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, len(w.bound[serviceName]))
	copy(names, w.bound[serviceName])
	return names
}
