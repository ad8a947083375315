package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/melkeydev/dbplus/access"
	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/events"
	"github.com/melkeydev/dbplus/mcp"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// stdout carries the MCP protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	policy, err := cfg.Permissions.Policy()
	if err != nil {
		slog.Error("permissions config error", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := access.Open(ctx, cfg, access.WithLogger(logger))
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Destroy()

	db.Events().Subscribe(func(_ context.Context, e events.Event) error {
		slog.Info("table changed", "database", e.Database, "table", e.Table, "type", e.Type)
		return nil
	})

	// Create a new MCP server
	s := server.NewMCPServer(
		"dbplus",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	mcp.RegisterTools(s, db, policy)
	slog.Info("connected", "type", cfg.Database.DBType, "database", cfg.Database.Name)

	// Start the stdio server
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}
}
