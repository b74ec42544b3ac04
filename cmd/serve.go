// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/config"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/observability"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  `Starts the erase API. Requests are forwarded to the vendor with a fresh browser identity and signature, and each accepted task is written to the call journal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			components, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Shutdown(logger)

			srvCfg := serverConfig(cfg)
			if addr != "" {
				srvCfg.Addr = addr
			}
			srv := server.New(srvCfg, components.Service, components.Journal, logger)

			logger.Info("Starting watermark remover API.", zap.String("version", Version), zap.String("addr", srvCfg.Addr))
			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return serveCmd
}
