package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hannes/role-anonymizer/src/backend/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the anonymization HTTP service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from LISTEN_ADDR or :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("addr") {
		cfg.ListenAddr = serveAddr
	}

	p, err := buildPipeline(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing pipeline")
		}
	}()

	if !p.models.IsHealthy() {
		log.Warn().Str("detector", cfg.DetectorName).Msg("starting without a healthy detector; /api/anonymize will answer 503")
	}

	srv := server.NewServer(cfg, p.masking, p.models, p.audit)
	return srv.Run(ctx)
}
