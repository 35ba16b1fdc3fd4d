package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fpt/nexus-guard/internal/gateway"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to config file, YAML or JSON (default: $HOME/.nexus-guard/config.yaml if present)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Initialize logger
	logger := pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.LogLevel(*logLevel), os.Stdout)

	// Load config; the default path is optional, an explicit one is not
	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(gateway.DefaultConfigPath()); err == nil {
			cfgPath = gateway.DefaultConfigPath()
		}
	}

	cfg, err := gateway.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.InfoWithIntention(pkgLogger.IntentionConfig, "Configuration loaded",
		"file", cfgPath, "channels", cfg.Channels(), "retention", cfg.Storage.Retention)

	gw, err := gateway.NewGateway(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create gateway: %v\n", err)
		os.Exit(1)
	}
	defer gw.Close()

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.InfoWithIntention(pkgLogger.IntentionCancel, "Received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Println("nexus-guard starting...")
	if cfgPath != "" {
		fmt.Printf("  Config:   %s\n", cfgPath)
	}
	channels := gw.Adapters()
	if len(channels) == 0 {
		fmt.Println("  Channels: none configured (set TELEGRAM_BOT_TOKEN, DISCORD_TOKEN or EMAIL_ADDRESS/EMAIL_PASSWORD)")
	} else {
		fmt.Printf("  Channels: %s\n", strings.Join(channels, ", "))
	}
	fmt.Printf("  Sinks:    %s\n", strings.Join(gw.Sinks(), ", "))
	fmt.Printf("  Triage:   every %s, %d worker(s), text backend %s\n", cfg.Triage.Interval, max(cfg.Triage.Workers, 1), cfg.Classifier.TextBackend)
	if cfg.Feed.Addr != "" {
		fmt.Printf("  Feed:     http://%s/api/feed\n", feedHost(cfg.Feed.Addr))
	}
	fmt.Println()

	if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Gateway error: %v\n", err)
		os.Exit(1)
	}
}

func feedHost(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
