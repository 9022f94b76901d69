/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jjudge-oj/authserver/config"
	"github.com/jjudge-oj/authserver/internal/audit"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/mq"
	"github.com/jjudge-oj/authserver/internal/storage"
	"github.com/spf13/cobra"
)

// archiverCmd represents the archiver command
var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Archives auth events from the event stream into object storage",
	Long: `Consumes the auth events channel and writes every event as a JSON
object under audit/<yyyy>/<mm>/<dd>/ in the configured bucket. Usage:

	MQ_BACKEND=rabbitmq STORAGE_BACKEND=minio authserver archiver
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.NewLogger(cfg.LogLevel, "authserver-archiver", cfg.Env)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open event stream: %w", err)
		}
		stream := mq.NewEventStream(broker, cfg.EventsChannel)
		defer stream.Close()

		bucket, err := storage.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open object storage: %w", err)
		}
		defer bucket.Close()

		return audit.NewArchiver(stream, bucket, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(archiverCmd)
}
