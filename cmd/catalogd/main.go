// catalogd runs one backend service (products or users) over the framed RPC protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"polygate/backend"
	"polygate/backend/store"
	"polygate/config"
	"polygate/middleware"
	"polygate/registry"
	"polygate/resource"
	"polygate/server"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"Configuration file path (YAML)"`
	Kind        string `long:"kind" short:"k" description:"Resource to serve" choice:"product" choice:"user" required:"true"`
	Listen      string `long:"listen" short:"l" description:"Listen address; defaults to the configured backend address"`
	Advertise   string `long:"advertise" description:"Address published to etcd; defaults to the listen address"`
	Store       string `long:"store" description:"Record store" choice:"memory" choice:"postgres"`
	PostgresURL string `long:"postgres-url" env:"POLYGATE_POSTGRES_URL" description:"PostgreSQL connection string"`
	LogLevel    string `long:"log-level" description:"Log level"`

	RequestTimeout time.Duration `long:"request-timeout" description:"Upper bound on each request, e.g. 5s"`
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := opts.apply(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		log.Fatal().Err(err).Str("addr", opts.Listen).Msg("failed to listen")
	}
	if err := run(ctx, cfg, resource.Kind(opts.Kind), lis, opts.Advertise); err != nil {
		log.Fatal().Err(err).Msg("catalogd failed")
	}
}

// apply layers command line flags over the file configuration.
func (o *flagOptions) apply(cfg *config.Config) error {
	if o.Store != "" {
		cfg.Catalog.Store = o.Store
	}
	if o.PostgresURL != "" {
		cfg.Catalog.PostgresURL = o.PostgresURL
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.RequestTimeout != 0 {
		cfg.Catalog.RequestTimeout = o.RequestTimeout
	}
	if o.Listen == "" {
		o.Listen = cfg.Backends.For(resource.Kind(o.Kind)).Addr
	}
	if o.Advertise == "" {
		o.Advertise = o.Listen
	}
	return cfg.Validate()
}

func openStore(ctx context.Context, cfg *config.Config, d resource.Descriptor) (store.Store, error) {
	if cfg.Catalog.Store != "postgres" {
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.Catalog.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx, d); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// newServer builds the RPC server for kind over st, registering with etcd when
// endpoints are configured.
func newServer(cfg *config.Config, kind resource.Kind, st store.Store, advertise string) (*server.Server, registry.Registry, error) {
	svc, err := backend.ForKind(kind, st)
	if err != nil {
		return nil, nil, err
	}

	logger := log.With().Str("component", "catalogd").Str("kind", string(kind)).Logger()
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithCodecName(cfg.Backends.For(kind).Codec),
	}

	var reg registry.Registry
	if len(cfg.Etcd.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return nil, nil, err
		}
		reg = etcd
		opts = append(opts, server.WithRegistry(reg, advertise))
	}

	svr := server.NewServer(opts...)
	for _, mw := range middlewares(cfg, logger) {
		svr.Use(mw)
	}
	if err := svr.Register(svc); err != nil {
		if reg != nil {
			reg.Close()
		}
		return nil, nil, err
	}
	return svr, reg, nil
}

// middlewares returns the request chain, outermost first.
func middlewares(cfg *config.Config, logger zerolog.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.Logging(logger), middleware.Deadline()}
	if cfg.Catalog.RequestTimeout > 0 {
		mws = append(mws, middleware.Timeout(cfg.Catalog.RequestTimeout))
	}
	if cfg.Catalog.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(cfg.Catalog.RateLimit, cfg.Catalog.RateBurst))
	}
	return mws
}

// run serves kind on lis until ctx is done. lis is closed on return.
func run(ctx context.Context, cfg *config.Config, kind resource.Kind, lis net.Listener, advertise string) (err error) {
	d, ok := resource.Lookup(kind)
	if !ok {
		lis.Close()
		return fmt.Errorf("unknown resource kind %q", kind)
	}

	st, err := openStore(ctx, cfg, d)
	if err != nil {
		lis.Close()
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	svr, reg, err := newServer(cfg, kind, st, advertise)
	if err != nil {
		lis.Close()
		return err
	}
	if reg != nil {
		defer func() { err = multierr.Append(err, reg.Close()) }()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- svr.Serve(lis) }()
	log.Info().Str("kind", string(kind)).Str("store", cfg.Catalog.Store).Str("addr", lis.Addr().String()).Msg("catalogd started")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return multierr.Append(svr.Shutdown(shutdownCtx), <-serveErr)
}
