package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"velgo-hub/client-core/internal/adapters/rpc"
	"velgo-hub/client-core/internal/composition/clientservice"
	"velgo-hub/client-core/internal/config"
	"velgo-hub/client-core/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", rpc.DefaultRPCAddr, "JSON-RPC listen address")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Velgo-RPC-Token (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("velgo-client-core version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	// Local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("VELGO_RPC_TOKEN", *rpcToken)
	}
	if *dataDir != "" {
		_ = os.Setenv("VELGO_DATA_DIR", *dataDir)
	}

	cfg := config.LoadFromPath(*configPath)
	svc, err := clientservice.Build(cfg, logger)
	if err != nil {
		logger.Error("velgo-client-core failed to initialize", "error", err)
		os.Exit(1)
	}

	srv := rpc.NewServerWithService(*rpcAddr, svc)
	logger.Info("velgo-client-core starting", "rpc_addr", *rpcAddr)
	if err := srv.Run(ctx); err != nil {
		logger.Error("velgo-client-core failed", "error", err)
		os.Exit(1)
	}
	logger.Info("velgo-client-core stopped")
}
