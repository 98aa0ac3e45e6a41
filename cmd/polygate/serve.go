package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"polygate/client"
	"polygate/config"
	"polygate/gateway"
	"polygate/graph"
	"polygate/resource"
	"polygate/rest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the graph and HTTP surfaces.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lis, err := net.Listen("tcp", cfg.Gateway.HTTPAddr)
		if err != nil {
			return err
		}
		return serve(ctx, cfg, lis)
	},
}

// backendConns opens one lazily dialed connection per backend.
func backendConns(cfg *config.Config) map[resource.Kind]*client.Conn {
	conns := make(map[resource.Kind]*client.Conn)
	for _, d := range resource.All() {
		bc := cfg.Backends.For(d.Kind)
		conns[d.Kind] = client.NewConn(d.Service, bc.Addr,
			client.WithCodec(bc.CodecType()),
			client.WithDialTimeout(bc.DialTimeout),
			client.WithCallTimeout(bc.CallTimeout),
			client.WithHeartbeat(bc.Heartbeat),
		)
	}
	return conns
}

// newHandler mounts both public surfaces and the metrics endpoint.
func newHandler(cfg *config.Config, d *gateway.Dispatcher, logger zerolog.Logger) http.Handler {
	restMux := http.NewServeMux()
	rest.New(d, rest.WithMaxBodyBytes(cfg.Gateway.MaxBodyBytes)).Register(restMux)

	graphOpts := []graph.Option{graph.WithMaxBodyBytes(cfg.Gateway.MaxBodyBytes)}
	if cfg.Gateway.Playground {
		graphOpts = append(graphOpts, graph.WithPlayground(cfg.Gateway.GraphPath))
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Gateway.GraphPath, rest.Instrument("graph", logger, graph.NewHandler(graph.NewExecutor(d), graphOpts...)))
	mux.Handle(cfg.Gateway.MetricsPath, promhttp.Handler())
	mux.Handle("/", rest.Instrument("http", logger, restMux))
	return mux
}

// serve runs the gateway on lis until ctx is done, then drains requests and closes the
// backend connections.
func serve(ctx context.Context, cfg *config.Config, lis net.Listener) error {
	logger := log.With().Str("component", "gateway").Logger()

	conns := backendConns(cfg)
	dispatcher := gateway.New(
		client.NewResourceClient(resource.Products, conns[resource.KindProduct]),
		client.NewResourceClient(resource.Users, conns[resource.KindUser]),
	)

	srv := &http.Server{
		Handler:           newHandler(cfg, dispatcher, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", lis.Addr().String()).
			Str("graph", cfg.Gateway.GraphPath).
			Str("products", cfg.Backends.Products.Addr).
			Str("users", cfg.Backends.Users.Addr).
			Msg("gateway listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}
	return err
}
