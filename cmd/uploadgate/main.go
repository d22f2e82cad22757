package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fotoowl/uploadgate/internal/api"
	"github.com/fotoowl/uploadgate/internal/config"
	"github.com/fotoowl/uploadgate/internal/ingest"
	"github.com/fotoowl/uploadgate/internal/logging"
	"github.com/fotoowl/uploadgate/internal/notify"
	"github.com/fotoowl/uploadgate/internal/piecestore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "uploadgate: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "uploadgate",
		Short:        "Edge upload gateway for the decentralized piece store",
		Long:         `uploadgate accepts file uploads over raw stream, multipart form or JSON reference, stores the bytes on the storage network, and notifies the backend.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Address = addr
			}
			log := logging.New(cfg.LogLevel)
			defer log.Sync()

			var store api.PieceStore
			if cfg.StorageConfigured() {
				ps, err := piecestore.New(cfg, log.Named("piecestore"))
				if err != nil {
					return fmt.Errorf("init piece store: %w", err)
				}
				if err := ps.EnsureBucket(ctx); err != nil {
					return fmt.Errorf("ensure bucket: %w", err)
				}
				store = ps
			} else {
				log.Warn("storage gateway credentials missing; uploads will fail until configured")
			}

			notifier := notify.New(cfg.BackendBaseURL, cfg.BackendAPIKey, nil, log.Named("notify"))
			normalizer := ingest.NewNormalizer(ingest.NewHTTPFetcher(nil), log.Named("ingest"))
			srv := api.New(cfg, store, notifier, normalizer, log.Named("api"))
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides UPLOADGATE_ADDRESS)")
	return cmd
}
