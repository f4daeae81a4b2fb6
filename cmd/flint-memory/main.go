// ABOUTME: Entry point for the built-in memory MCP server child.
// ABOUTME: Usage: flint-memory [store-path]; speaks MCP on stdio.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flint-sh/flint/internal/memory"
)

var version = "dev"

func main() {
	storePath := defaultStorePath()
	if len(os.Args) > 1 {
		storePath = os.Args[1]
	}

	if err := run(storePath); err != nil {
		fmt.Fprintf(os.Stderr, "flint-memory: %v\n", err)
		os.Exit(1)
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memory.db"
	}
	return filepath.Join(home, ".flint", "memory.db")
}

func run(storePath string) error {
	store, err := memory.Open(storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	server := memory.NewServer(store, version, logger)
	return server.Run(ctx, os.Stdin, os.Stdout)
}
