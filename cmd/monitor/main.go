package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chainwatch/contract-monitor/internal/attribution"
	"github.com/chainwatch/contract-monitor/internal/config"
	"github.com/chainwatch/contract-monitor/internal/logging"
	"github.com/chainwatch/contract-monitor/internal/storage"
	"github.com/chainwatch/contract-monitor/internal/supervisor"
)

func main() {
	chainsFlag := flag.String("chains", "", "comma-separated chain names to monitor, or \"all\"")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Configure(cfg.LogLevel)

	store, err := storage.Open(*cfg)
	if err != nil {
		logging.Logger().Error("failed to open storage layer", "error", err)
		os.Exit(1)
	}

	attr := attribution.New(cfg.Attribution)

	var selection []string
	if *chainsFlag != "" {
		selection = strings.Split(*chainsFlag, ",")
	}
	chains := cfg.ResolveChains(selection)
	resolved := make(map[string]bool, len(chains))
	for _, c := range chains {
		resolved[c] = true
	}
	for _, name := range selection {
		if name != "all" && !resolved[name] {
			logging.Logger().Warn("skipping chain: non-EVM or not configured", "chain", name)
		}
	}
	if len(chains) == 0 {
		logging.Logger().Error("no usable chains resolved from configuration and flags")
		os.Exit(1)
	}

	sup := supervisor.New(*cfg, store, attr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Logger().Info("starting contract monitor", "chains", chains)
	sup.Run(ctx, chains)
	logging.Logger().Info("contract monitor stopped")
}
