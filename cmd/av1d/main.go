package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"av1d/internal/config"
	"av1d/internal/daemon"
	"av1d/internal/encode"
	"av1d/internal/probe"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("av1d", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.toml")
	envPath := fs.String("env", "", "path to a .env file with overrides")
	once := fs.Bool("once", false, "run a single scan cycle and exit")
	skipChecks := fs.Bool("skip-checks", false, "skip the av1an/ffmpeg startup checks")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	config.LoadDotenv(*envPath)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*skipChecks {
		if err := daemon.RunStartupChecks(ctx, cfg.EncoderSafety.DisallowHardwareEncoding, log); err != nil {
			return err
		}
	}

	d, err := daemon.New(cfg, encode.Av1an{}, probe.FFprobe{}, log)
	if err != nil {
		return err
	}
	return d.Run(ctx, daemon.RunOptions{Once: *once})
}
