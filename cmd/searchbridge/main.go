package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"memoryd/internal/config"
	"memoryd/internal/searchbridge"
)

func main() {
	// stdout is reserved for JSON-RPC framing; all logging goes to stderr,
	// installed before anything else initializes, per spec.md §4.7.
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	baseURL := flag.String("worker-url", "", "memoryd worker base URL (default derived from config host/port)")
	workerBin := flag.String("worker-bin", "", "path to the memoryd worker binary, spawned if the worker is unreachable")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	url := *baseURL
	if url == "" {
		url = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	client := searchbridge.NewWorkerClient(url, *workerBin, nil)
	bridge := &searchbridge.Bridge{Worker: client}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bridge.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("search bridge exited")
	}
}
