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
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/config"
)

// Version information
const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration (required)")
	engineName := flag.String("engine", "", "Override the configured engine: gstreamer, sim")
	listStages := flag.Bool("list-stages", false, "Build the pipeline, print its stage names and exit")
	statsInterval := flag.Int("stats-interval", 10, "Seconds between stats reports (0 = off)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("frame-grabber %s\n", version)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --config flag is required\n\n")
		fmt.Fprintf(os.Stderr, "Usage example:\n")
		fmt.Fprintf(os.Stderr, "  frame-grabber --config configs/frame-grabber.yaml\n")
		fmt.Fprintf(os.Stderr, "  frame-grabber --config configs/frame-grabber.yaml --engine sim --list-stages\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *engineName != "" {
		cfg.Engine = *engineName
		if err := config.Validate(cfg); err != nil {
			log.Fatalf("Invalid engine override: %v", err)
		}
	}

	if *listStages {
		names, err := stageNames(cfg)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║            Frame Grabber - Orion 2.0 Module              ║\n")
	fmt.Printf("║                      Version %s                        ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Pipeline:      %s\n", cfg.Pipeline)
	fmt.Printf("  Engine:        %s\n", cfg.Engine)
	fmt.Printf("  Sink:          %s\n", cfg.SinkName)
	fmt.Printf("  Format:        %s\n", cfg.PixelFormat())
	if cfg.Capture.OutputDir != "" {
		fmt.Printf("  Output Dir:    %s (%s, every %d)\n", cfg.Capture.OutputDir, cfg.Capture.OutputFormat, cfg.Capture.SaveEvery)
	} else {
		fmt.Printf("  Output Dir:    (none - frames not saved)\n")
	}
	if cfg.Capture.MaxFrames > 0 {
		fmt.Printf("  Max Frames:    %d\n", cfg.Capture.MaxFrames)
	} else {
		fmt.Printf("  Max Frames:    unlimited\n")
	}
	fmt.Printf("\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		Out:           os.Stdout,
		StatsInterval: time.Duration(*statsInterval) * time.Second,
	}
	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("frame-grabber: capture failed", "error", err)
		os.Exit(1)
	}

	slog.Info("frame-grabber: capture completed successfully")
}
