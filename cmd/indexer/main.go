package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/videorag/internal/app"
	"github.com/seanblong/videorag/internal/config"
	"github.com/seanblong/videorag/internal/indexer"
)

// Prepares videos ahead of time and persists their artifacts. Video ids are taken from the
// positional arguments and from the caption files in --caption-dir.
func main() {
	fs := pflag.NewFlagSet("videorag-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	videoIDs := fs.Args()
	if len(videoIDs) == 0 && cfg.Transcript.CaptionDir == "" {
		log.Fatal("nothing to prepare: pass video ids or --caption-dir")
	}
	if cfg.Store == config.StoreNone {
		zlog.Warn().Msg("no artifact store configured; prepared videos will not outlive this run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	ix := indexer.New(a.Cache, cfg.Transcript.CaptionDir, cfg.Workers)
	rep, runErr := ix.Run(ctx, videoIDs)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Printf("Failed to write report: %v", err)
	}

	if runErr != nil {
		a.Close()
		log.Fatal(runErr)
	}
	if rep.Failed > 0 {
		a.Close()
		os.Exit(1)
	}
}
