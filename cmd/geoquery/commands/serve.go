package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the geoquery HTTP API",
	Long: `Start an HTTP server exposing compile, query, compliance, and schema
endpoints under /api/v1. The server shuts down gracefully on SIGINT or
SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		RequestTimeout:   cfg.Server.RequestTimeout,
		GracefulShutdown: cfg.Server.GracefulShutdown,
	}, server.Deps{
		Compiler: a.Compiler,
		Executor: a.Executor,
		Source:   a.Source,
		Checker:  a.Checker,
		Registry: a.Registry,
	}, logger.WithComponent("server"))

	return srv.ListenAndServe(ctx)
}
