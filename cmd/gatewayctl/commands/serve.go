package commands

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xalo2100/alfatechflow-sub001/infrastructure/httpapi"
	"github.com/xalo2100/alfatechflow-sub001/infrastructure/middleware"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over HTTP",
		Long: `Serve the gateway over HTTP until interrupted.

Routes:
  POST /v1/invocations   invoke a provider
  GET  /v1/models        planned candidates (?provider=cloud&model=...)
  GET  /healthz          liveness
  GET  /metrics          Prometheus metrics`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cmd, middleware.NewPrometheusMetrics())
	if err != nil {
		return err
	}
	defer rt.Close()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = rt.Config.Server.Addr
	}

	srv, err := httpapi.New(rt.Gateway, rt.Gateway, httpapi.Config{
		Addr:              addr,
		ReadHeaderTimeout: rt.Config.Server.ReadHeaderTimeout,
		ShutdownTimeout:   rt.Config.Server.ShutdownTimeout,
		Metrics:           promhttp.Handler(),
		Logger:            slog.Default(),
	})
	if err != nil {
		return err
	}

	slog.Info("gateway ready",
		"addr", addr,
		"deadline", rt.Gateway.Deadline(),
		"credential_backend", rt.Config.Credentials.Backend)
	return srv.ListenAndServe(ctx)
}
