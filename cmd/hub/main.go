package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/cloudhw/config"
	"github.com/mbocsi/cloudhw/server"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "cloudhw.yaml", "Path to the YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides hub.addr)")
	noSim := flag.Bool("no-simulate", false, "Do not run simulated controllers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Hub.Addr = *addr
	}
	if *noSim {
		cfg.Hub.Simulate = false
	}

	logger, closeLog, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := server.NewHubServer(cfg.HubOptions())
	if err := hub.Start(ctx); err != nil {
		slog.Error("Error running hub server", "error", err.Error())
		os.Exit(1)
	}
}
