package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mbocsi/cloudhw/client"
	"github.com/mbocsi/cloudhw/config"
	"github.com/mbocsi/cloudhw/mcp"
	flag "github.com/spf13/pflag"
)

func main() {
	configPath := flag.StringP("config", "c", "cloudhw.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// stdout carries the MCP protocol
	if cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}
	logger, closeLog, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	bridge := mcp.NewBridge(mcp.NewMCPServer(), cfg.Client.ResultWait())
	pos, err := client.NewClient(cfg.ClientConfig(), nil,
		client.WithHandlers(bridge.Handlers()),
		client.WithLogger(logger),
		client.WithBreaker(cfg.BreakerConfig()),
	)
	if err != nil {
		slog.Error("Error creating POS client", "error", err.Error())
		os.Exit(1)
	}
	defer pos.Close()
	bridge.Attach(pos)

	if err := bridge.Run(); err != nil {
		slog.Error("Error running MCP server", "error", err.Error())
		os.Exit(1)
	}
}
