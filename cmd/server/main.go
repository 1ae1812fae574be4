package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/zpskt/keen/internal/app"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/service/ai"
)

var (
	configPath string
	grpcPort   int
	httpPort   int
)

var rootCmd = &cobra.Command{
	Use:   "keen-server",
	Short: "Detection server for streaming cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("KEEN_CONFIG"), "YAML or JSON config file")
	rootCmd.Flags().IntVar(&grpcPort, "grpc-port", 0, "Override server.grpc_port")
	rootCmd.Flags().IntVar(&httpPort, "http-port", 0, "Override server.http_port")
}

func run(ctx context.Context) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if grpcPort != 0 {
		cfg.Server.GRPCPort = grpcPort
	}
	if httpPort != 0 {
		cfg.Server.HTTPPort = httpPort
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	detector, err := ai.NewDetector(cfg.Model, log)
	if err != nil {
		log.Error("Could not initialize detection network: %v", err)
		return err
	}
	defer func() { err = multierr.Append(err, detector.Close()) }()

	application, err := app.NewApp(cfg, log, detector)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, application.Close()) }()

	return application.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
