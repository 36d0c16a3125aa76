package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaharia-lab/ragchat/server"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var staticDir string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		Long: `Starts the HTTP server exposing POST /chat, POST /clear-chat,
GET /health and GET /metrics, and serves the static chat UI.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("static-dir") {
				cfg.Server.StaticDir = staticDir
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					a.logger.WithErr(err).Error("failed to release resources")
				}
			}()

			if err := setupTracing(a, opts.traceStdout, cmd.ErrOrStderr()); err != nil {
				return err
			}

			service, err := a.buildService(ctx)
			if err != nil {
				return err
			}

			srv := server.New(service,
				server.WithLogger(a.logger),
				server.WithMetricsGatherer(a.registry),
				server.WithStaticDir(cfg.Server.StaticDir),
				server.WithServiceName(serviceName),
			)

			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			a.logger.WithFields(map[string]interface{}{
				"addr":     addr,
				"provider": cfg.LLM.Provider,
				"sessions": cfg.Session.Backend,
			}).Info("starting chat server")

			return srv.Run(ctx, addr, cfg.Server.ShutdownTimeout)
		},
	}

	cmd.Flags().StringVar(&staticDir, "static-dir", "", "Directory with the static chat UI (overrides server.static_dir)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides server.port and PORT)")
	return cmd
}
