package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	fitclip "fitclip"
	"fitclip/internal/api"
	"fitclip/internal/check"
	"fitclip/internal/config"
	"fitclip/internal/encode"
	"fitclip/internal/jobs"
	"fitclip/internal/logger"
	"fitclip/internal/probe"
	"fitclip/internal/store"
)

func newServeCommand(configFlag *string) *cobra.Command {
	var listenFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compression queue and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configFlag, listenFlag)
		},
	}

	cmd.Flags().StringVar(&listenFlag, "listen", "", "Listen address (overrides config)")

	return cmd
}

func runServe(configFlag, listenFlag string) error {
	cfg, cfgPath, err := loadConfig(configFlag)
	if err != nil {
		return err
	}
	if listenFlag != "" {
		cfg.Listen = listenFlag
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)

	// Missing tools are a startup problem, not a per-job one
	checker := check.New()
	if err := checker.Tools(cfg); err != nil {
		return err
	}

	dataDir := cfg.ResolveDataDir(cfgPath)
	if err := prepareDir(dataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if cfg.OutputDir != "" {
		if err := prepareDir(cfg.OutputDir); err != nil {
			return fmt.Errorf("output dir: %w", err)
		}
	}
	if cfg.TempDir != "" {
		if err := prepareDir(cfg.TempDir); err != nil {
			return fmt.Errorf("temp dir: %w", err)
		}
	}

	// One instance per data dir; a second would fight over the database
	lock := flock.New(filepath.Join(dataDir, "fitclip.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another fitclip instance is already running in %s", dataDir)
	}
	defer lock.Unlock()

	jobStore, err := store.InitStore(dataDir)
	if err != nil {
		return fmt.Errorf("initialize job store: %w", err)
	}
	defer jobStore.Close()

	queue, err := jobs.NewWithStore(jobStore)
	if err != nil {
		return fmt.Errorf("initialize job queue: %w", err)
	}

	reportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	report := checker.Run(reportCtx, cfg)
	cancel()

	prober := probe.NewProber(cfg.FFprobePath)
	encoder := encode.NewEncoder(cfg.FFmpegPath)
	sequencer := jobs.NewSequencer(queue, prober, encoder, jobs.Options{TempDir: cfg.TempDir})

	handler := api.NewHandler(queue, sequencer, checker, cfg)
	router := api.NewRouter(handler)

	sequencer.Start()

	printStartup(cfg, cfgPath, jobStore.Path(), report)

	logger.Info("fitclip started",
		"version", fitclip.Version,
		"listen", cfg.Listen,
		"hardware_encoder", report.HardwareEncoder)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n  Shutting down...")
		logger.Info("Shutdown signal received")
		// Stop the pipeline before the listener so the interrupted job
		// is persisted while the store is still open
		sequencer.Stop()
		server.Close()
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sequencer.Stop()
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// prepareDir creates the directory if needed and verifies it is usable
func prepareDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	return nil
}

func printStartup(cfg *config.Config, cfgPath, dbPath string, report *check.Report) {
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "(same directory as source)"
	}
	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = "(same directory as output)"
	}
	encoders := []string{"libx264"}
	if report.HardwareEncoder {
		encoders = append(encoders, "h264_nvenc")
	}

	fmt.Printf("fitclip v%s\n", fitclip.Version)
	fmt.Println()
	fmt.Printf("  Config:    %s\n", cfgPath)
	fmt.Printf("  Database:  %s\n", dbPath)
	fmt.Printf("  Output:    %s\n", outputDir)
	fmt.Printf("  Temp:      %s\n", tempDir)
	fmt.Printf("  FFmpeg:    %s\n", cfg.FFmpegPath)
	fmt.Printf("  FFprobe:   %s\n", cfg.FFprobePath)
	fmt.Printf("  Encoders:  %s\n", strings.Join(encoders, ", "))
	fmt.Printf("  Listen:    %s\n", cfg.Listen)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()
}
