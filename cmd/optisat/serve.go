package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/optisat/internal/rpc"
	"github.com/danielpatrickdp/optisat/internal/state"
	"github.com/danielpatrickdp/optisat/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stopping engine over gRPC",
	Long: `Start the optisat.v1.StoppingService gRPC server and the Prometheus
/metrics endpoint. Every run and decision is stored in the SQLite run store.

The engine section of the config is the default for runs whose StartRun
request leaves fields out.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without default criteria every StartRun must bring its own.
	defaults := appCfg.Engine.ToStopping()
	if len(defaults.Criteria) > 0 {
		var err error
		if defaults, err = appCfg.EngineConfig(); err != nil {
			return fmt.Errorf("default engine config: %w", err)
		}
	}

	store, err := state.NewStore(appCfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := telemetry.NewRecorder(reg)

	srv := rpc.NewServer(defaults,
		rpc.WithStore(store),
		rpc.WithRecorder(recorder),
		rpc.WithLogger(logger),
	)
	gs := grpc.NewServer()
	rpc.Register(gs, srv)

	lis, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", appCfg.Server.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", "addr", lis.Addr().String(), "store", appCfg.Store.Path)
		return gs.Serve(lis)
	})

	var metricsSrv *http.Server
	if appCfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{
			Addr:              appCfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", appCfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "active_runs", srv.ActiveRuns())
		gs.GracefulStop()
		if metricsSrv == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
