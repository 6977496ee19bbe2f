package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"snapcart/internal/browser"
	"snapcart/internal/config"
	"snapcart/internal/monitor"
	"snapcart/internal/notify"
	"snapcart/internal/proxy"
	"snapcart/internal/stats"
	"snapcart/internal/store"
)

func newRunCmd(configPath *string) *cobra.Command {
	var targetURL string
	var dryRun bool
	var headless bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring the target page and purchase on restock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if targetURL != "" {
				cfg.TargetURL = targetURL
			}
			if dryRun {
				// Dry run stops every flow just before submission.
				cfg.AutoPurchase = false
			}
			if cmd.Flags().Changed("headless") {
				cfg.Headless = headless
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runMonitor(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&targetURL, "url", "", "target product URL (overrides config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop before final purchase")
	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")

	return cmd
}

func runMonitor(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	fileStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return err
	}

	sink, err := stats.NewSQLiteSink(filepath.Join(cfg.DataDir, "stats.db"), logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	var rotator *proxy.Rotator
	if cfg.UseProxies {
		endpoints, err := proxy.LoadFile(filepath.Join(cfg.DataDir, "proxies.yaml"))
		if err != nil {
			return fmt.Errorf("load proxies: %w", err)
		}
		rotator = proxy.NewRotator(endpoints, proxy.Options{}, logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if rotator != nil {
		go rotator.RunHealthChecks(ctx)
	}

	orch := monitor.NewOrchestrator(
		cfg,
		fileStore,
		browser.NewRodBrowser(cfg, logger),
		notify.NewLogNotifier(logger),
		sink,
		rotator,
		logger,
	)

	run, err := orch.Start(ctx)
	if err != nil {
		return err
	}

	// First Ctrl-C stops cooperatively; sessions finish their current
	// bounded waits. Second one kills the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("stopping, waiting for sessions to wind down")
		orch.Stop()
		<-sigCh
		os.Exit(1)
	}()

	purchased := 0
	for outcome := range run.Outcomes {
		switch {
		case outcome.Purchased:
			purchased++
			fmt.Printf("✓ %s purchased %d× %s\n", outcome.AccountID, outcome.Quantity, outcome.Product.Name)
		case outcome.Ready:
			fmt.Printf("● %s: checkout filled, confirm manually in the browser\n", outcome.AccountID)
		default:
			fmt.Printf("✗ %s failed: %s\n", outcome.AccountID, monitor.Cause(outcome.Err))
		}
	}
	run.Wait()

	if purchased == 0 && !cfg.AutoPurchase {
		return nil
	}
	fmt.Printf("run finished: %d purchase(s)\n", purchased)
	return nil
}
