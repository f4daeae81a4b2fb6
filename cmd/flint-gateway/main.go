// ABOUTME: Entry point for the flint gateway server.
// ABOUTME: Cobra commands: serve, health, threads, version.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flint-sh/flint/internal/config"
	"github.com/flint-sh/flint/internal/gateway"
	"github.com/flint-sh/flint/internal/slack"
)

// version is set by the release pipeline.
var version = "dev"

const banner = `
   __ _ _       _
  / _| (_)_ __ | |_
 | |_| | | '_ \| __|
 |  _| | | | | | |_
 |_| |_|_|_| |_|\__|
`

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "flint-gateway",
		Short: "Bridge messaging channels to coding-agent processes",
		Long:  "flint-gateway routes messages from HTTP clients, Slack, and terminals to long-lived coding-agent child processes, one conversation thread per agent session.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to gateway.yaml (default: ~/.config/flint/gateway.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(threadsCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			settings, codexErr, err := config.LoadSettings(cfg.Gateway.UserSettingsPath)
			if err != nil {
				return err
			}

			logger := newLogger(cfg)
			if codexErr != nil {
				logger.Warn("codex configuration invalid; codex turns will fail until fixed", "error", codexErr)
			}

			gw, err := gateway.New(gateway.Options{
				Config:         cfg,
				Settings:       settings,
				CodexConfigErr: codexErr,
				Logger:         logger,
				Version:        version,
			})
			if err != nil {
				return err
			}

			if cfg.Slack.Enabled {
				gw.RegisterAdapter("slack", slack.New(cfg.Slack.SigningSecret, cfg.Slack.BotToken, logger.With("component", "slack")))
				logger.Info("slack channel enabled at /webhooks/slack")
			}

			fmt.Print(banner)
			color.New(color.FgCyan).Printf("flint-gateway %s\n", version)
			fmt.Printf("  provider: %s  routing: %s  addr: %s\n\n",
				cfg.Gateway.Provider, cfg.Gateway.RoutingMode, cfg.Server.HTTPAddr)

			return gw.Run(ctx)
		},
	}
}

func gatewayURL(cfg *config.Config) string {
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(gatewayURL(cfg) + "/v1/health")
			if err != nil {
				return fmt.Errorf("gateway unreachable: %w", err)
			}
			defer resp.Body.Close()

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decoding health response: %w", err)
			}
			color.New(color.FgGreen).Printf("ok (provider=%v, routing=%v, version=%v)\n",
				body["provider"], body["defaultRoutingMode"], body["version"])
			return nil
		},
	}
}

func threadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List known threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			req, err := http.NewRequest(http.MethodGet, gatewayURL(cfg)+"/v1/threads", nil)
			if err != nil {
				return err
			}
			if cfg.Auth.Token != "" {
				req.Header.Set("Authorization", "Bearer "+cfg.Auth.Token)
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("gateway unreachable: %w", err)
			}
			defer resp.Body.Close()

			var body struct {
				Data []struct {
					ThreadID  string `json:"threadId"`
					Provider  string `json:"provider"`
					Channel   string `json:"channel"`
					UpdatedAt string `json:"updatedAt"`
				} `json:"data"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decoding thread list: %w", err)
			}

			if len(body.Data) == 0 {
				fmt.Println("no threads")
				return nil
			}
			bold := color.New(color.Bold)
			for _, th := range body.Data {
				bold.Print(th.ThreadID)
				fmt.Printf("  %s/%s  updated %s\n", th.Channel, th.Provider, th.UpdatedAt)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
