// Command txcached serves a transactional cached key-value store over HTTP,
// or over MCP on stdio with -mcp.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/txcache/internal/config"
	txmcp "github.com/sanonone/txcache/internal/mcp"
	"github.com/sanonone/txcache/internal/server"
	"github.com/sanonone/txcache/pkg/engine"
	"github.com/sanonone/txcache/pkg/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	httpAddr := flag.String("http-addr", "", "HTTP listen address, overrides http_addr (e.g. :9191)")
	authToken := flag.String("auth-token", "", "Bearer token required by the HTTP API, overrides auth_token")
	mcpMode := flag.Bool("mcp", false, "Serve MCP tools on stdio instead of HTTP")
	compact := flag.Bool("compact", false, "Compact the AOF store and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *authToken != "" {
		cfg.AuthToken = *authToken
	}
	if *mcpMode {
		cfg.MCP = true
	}

	// stdout carries the MCP protocol, so logs always go to stderr.
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if *compact {
		if err := compactAOF(cfg); err != nil {
			log.Fatalf("Compaction failed: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Open(ctx, cfg.EngineOptions(logger))
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer eng.Close()

	if cfg.MCP {
		slog.Info("Serving MCP on stdio", "version", version)
		if err := txmcp.NewMCPServer(eng, version).Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("MCP server stopped", "error", err)
		}
		return
	}

	srv := server.NewServer(eng, server.Options{
		HTTPAddr:   cfg.HTTPAddr,
		AuthToken:  cfg.AuthToken,
		SessionTTL: cfg.SessionTTL,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	srv.Shutdown()
}

func compactAOF(cfg config.Config) error {
	if cfg.Store.Backend != storage.BackendAOF {
		return fmt.Errorf("-compact requires the aof backend, configured backend is %q", cfg.Store.Backend)
	}
	store, err := storage.OpenAOFStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	before := store.Size()
	if err := store.Compact(); err != nil {
		return err
	}
	slog.Info("AOF compacted", "path", cfg.Store.Path, "keys", store.Len(), "bytes_before", before, "bytes_after", store.Size())
	return nil
}
