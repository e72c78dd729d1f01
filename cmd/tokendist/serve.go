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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tokendist.org/internal/clock"
	"tokendist.org/internal/httpapi"
	"tokendist.org/internal/obs"
	"tokendist.org/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and gRPC APIs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		obs.Init()
		obs.InitBuildInfo(version, cfg.TokenAsset, cfg.NativeAsset)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, clock.System{})
		if err != nil {
			return err
		}
		defer a.close()
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	probe := httpapi.ReadyProbe{DB: a.db}
	api := httpapi.New(httpapi.Deps{
		Ready:         probe,
		Version:       version,
		Ledger:        a.ledger,
		Vault:         a.vault,
		Sale:          a.sale,
		Stream:        a.stream,
		Issuer:        a.issuer,
		Clock:         a.clock,
		IssueTokens:   a.cfg.Auth.IssueTokens,
		RateBurst:     a.cfg.RateLimit.Burst,
		RatePerSecond: a.cfg.RateLimit.PerSecond,
	})
	httpSrv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Event streams stay open, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(rpc.Logging(), rpc.BearerAuth(a.issuer)))
	rpc.Register(grpcSrv, rpc.NewServer(a.vault, a.sale, probe, version, a.clock))
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return err
	}

	obs.LogEvent("info", "starting", map[string]any{
		"version":  version,
		"http":     a.cfg.HTTPAddr,
		"grpc":     a.cfg.GRPCAddr,
		"postgres": a.cfg.UsesPostgres(),
		"sale":     a.sale.Address(),
		"vault":    a.vault.Address(),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		obs.LogEvent("info", "shutting_down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	obs.LogEvent("info", "stopped", nil)
	return err
}
