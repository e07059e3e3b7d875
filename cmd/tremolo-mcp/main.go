// Command tremolo-mcp serves the tremolo analysis tools over MCP on stdio.
//
// Standard output carries the protocol; logs go to standard error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kavehfayyazi/tremolo/internal/app"
	"github.com/kavehfayyazi/tremolo/internal/config"
	"github.com/kavehfayyazi/tremolo/internal/mcptools"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional path to the YAML configuration file")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tremolo-mcp: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Only the engine is used; the HTTP API is never started.
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	var opts []mcptools.Option
	opts = append(opts, mcptools.WithVersion(version))
	if m := application.Metrics(); m != nil {
		opts = append(opts, mcptools.WithMetrics(m))
	}
	server := mcptools.New(application.Engine(), opts...)

	slog.Info("mcp server ready", "tools", mcptools.Names)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server stopped", "err", err)
		return 1
	}
	return 0
}

func logLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
