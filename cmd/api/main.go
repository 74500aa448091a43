package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/auth"
	"github.com/PaulBabatuyi/pairchat/internal/chat"
	"github.com/PaulBabatuyi/pairchat/internal/config"
	"github.com/PaulBabatuyi/pairchat/internal/logging"
	"github.com/PaulBabatuyi/pairchat/internal/media"
	"github.com/PaulBabatuyi/pairchat/internal/middleware"
	"github.com/PaulBabatuyi/pairchat/internal/realtime"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envFile string

	setup := func() (*config.Config, *zap.Logger, error) {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
		log, err := logging.New(cfg.AppEnv, cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		return cfg, log, nil
	}

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runServer(ctx, cfg, log); err != nil {
			log.Error("server exited", zap.Error(err))
			return err
		}
		return nil
	}

	root := &cobra.Command{
		Use:          "pairchat",
		Short:        "Two-party chat backend with realtime delivery",
		SilenceUsage: true,
		RunE:         serve,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set CONFIG_FILE)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and health servers",
		RunE:  serve,
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create indexes or SQL schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			st, err := openStore(ctx, cfg.Store, log)
			if err != nil {
				return err
			}
			defer func() { _ = st.close(context.Background()) }()
			if err := st.migrate(ctx); err != nil {
				return err
			}
			log.Info("migration complete", zap.String("driver", cfg.Store.Driver))
			return nil
		},
	})
	return root
}

func newTokenManager(cfg config.JWTConfig) *auth.JWTManager {
	if len(cfg.Keys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.Keys, cfg.ActiveKid, cfg.TTL)
	}
	return auth.NewJWTManager(cfg.Secret, cfg.TTL)
}

// runServer serves until ctx is cancelled, then shuts every server down.
func runServer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.close(context.Background()) }()
	if err := st.migrate(ctx); err != nil {
		return err
	}

	files, err := media.NewStore(cfg.Upload.Dir, cfg.BaseURL, cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}
	tokens := newTokenManager(cfg.JWT)
	hub := realtime.NewHub(log.Named("realtime"))
	svc := chat.New(st.store, tokens, hub, files, log.Named("chat"))

	limiter := middleware.NewLimiterStore(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, time.Minute)
	defer limiter.Stop()

	httpLog := log.Named("http")
	app := newApplication(cfg, httpLog, svc, hub, tokens, files, limiter)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(httpLog),
	}

	var grpcOpts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS certs: %w", err)
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}
	grpcSrv, healthSrv := newHealthServer(grpcOpts...)

	var grpcLis net.Listener
	if cfg.GRPCHealthPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", httpSrv.Addr), zap.Bool("tls", cfg.TLSEnabled()))
		var err error
		if cfg.TLSEnabled() {
			err = httpSrv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if grpcLis != nil {
		g.Go(func() error {
			log.Named("grpc").Info("health server listening", zap.String("addr", grpcLis.Addr().String()))
			return grpcSrv.Serve(grpcLis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		hub.Shutdown()
		grpcSrv.GracefulStop()
		return err
	})

	return g.Wait()
}
