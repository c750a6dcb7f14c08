package cmd

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/commissiontracker/underwriter/internal/core/api"
	"github.com/commissiontracker/underwriter/internal/core/auth"
	"github.com/commissiontracker/underwriter/internal/core/config"
	"github.com/commissiontracker/underwriter/internal/core/server"
	"github.com/commissiontracker/underwriter/internal/core/store"
	"github.com/commissiontracker/underwriter/internal/metrics"
	"github.com/commissiontracker/underwriter/internal/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC and HTTP underwriting API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "listen host")
	serveCmd.Flags().Int("grpc-port", 0, "gRPC port")
	serveCmd.Flags().Int("http-port", 0, "HTTP port")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	cfg := a.cfg
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Server.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}
	if cmd.Flags().Changed("http-port") {
		cfg.Server.HTTPPort, _ = cmd.Flags().GetInt("http-port")
	}

	policy, err := rules.ParsePolicy(cfg.Engine.Policy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	st, err := store.New(database, a.fields)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := rules.NewEngine(a.fields,
		rules.WithLogger(a.logger),
		rules.WithMetrics(m),
		rules.WithPolicy(policy),
	)
	svc, err := api.NewService(engine, a.fields, st, cfg.Engine.DefaultOutcome, m, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	var interceptors []grpc.UnaryServerInterceptor
	handler := api.NewHTTPHandler(svc, a.logger, m, cfg.Server.MaxRequestBytes, cfg.Server.RequestTimeout)
	if cfg.Auth.Enabled {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		authenticator, err := auth.NewAuthenticator(secrets, st, a.logger, m)
		if err != nil {
			return fmt.Errorf("auth is enabled but unusable (set UW_HMAC_SECRET or UW_AUTH_ENABLED=false): %w", err)
		}
		interceptors = append(interceptors, authenticator.UnaryInterceptor())
		handler.RequireAuth(authenticator.Middleware)
	} else {
		a.logger.Warn("API key authentication disabled")
	}

	grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
	grpcServer, err := server.NewGRPCServer(grpcAddr, api.NewGRPCHandler(svc), a.logger, m, cfg.Server.RequestTimeout, interceptors...)
	if err != nil {
		return fmt.Errorf("failed to create grpc server: %w", err)
	}

	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort))
	httpServer := server.NewHTTPServer(httpAddr, handler.Router(reg), a.logger)

	a.logger.Info("starting underwriter",
		zap.String("version", Version),
		zap.String("grpc_addr", grpcAddr),
		zap.String("http_addr", httpAddr),
		zap.String("policy", string(policy)),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcServer.Start(gctx) })
	g.Go(func() error { return httpServer.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		grpcErr := grpcServer.Shutdown(shutdownCtx)
		httpErr := httpServer.Shutdown(shutdownCtx)
		if grpcErr != nil {
			return grpcErr
		}
		return httpErr
	})

	return g.Wait()
}
