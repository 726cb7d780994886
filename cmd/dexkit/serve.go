package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/gateway-fm/dexkit/internal/dex"
	"github.com/gateway-fm/dexkit/internal/metrics"
	"github.com/gateway-fm/dexkit/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API, the debug log websocket and /metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "listen address (env DEX_HTTP_ADDR)"},
			&cli.StringFlag{Name: "cors-origins", Usage: "comma-separated allowed origins, or * (env DEX_CORS_ORIGINS)"},
			&cli.BoolFlag{Name: "connect", Value: true, Usage: "connect the signer on startup"},
		},
		Action: action(serve),
	}
}

func serve(ctx context.Context, c *cli.Context, e *env) error {
	if c.IsSet("listen") {
		e.cfg.ListenAddr = c.String("listen")
	}
	if c.IsSet("cors-origins") {
		e.cfg.CORSAllowedOrigins = c.String("cors-origins")
	}
	logger := e.logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheusMetrics(reg)

	client := e.rpcClient(m.ObserveRPC)
	snd, err := e.newSender(client, nil)
	if err != nil {
		return err
	}
	if snd == nil {
		logger.Warn("No signer configured, serving a read-only session")
	}

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var factory common.Address
	if e.cfg.Factory != "" {
		factory = common.HexToAddress(e.cfg.Factory)
	}
	svc := dex.New(dex.Config{
		Client:        client,
		Sender:        snd,
		Router:        common.HexToAddress(e.cfg.Router),
		Factory:       factory,
		TargetChainID: e.cfg.ResolvedChainID(),
		Recorder:      store,
		Metrics:       m,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("connect") && snd != nil {
		if res, err := svc.Connect(ctx); err != nil {
			logger.Warn("Initial connect failed, POST /v1/connect to retry", slog.String("error", err.Error()))
		} else {
			logger.Info("Connected", slog.String("address", res.Address), slog.Uint64("chainId", res.ChainID))
		}
	}

	api := transport.NewServer(transport.ServerConfig{
		API:                svc,
		History:            store,
		Health:             transport.RPCHealth{Client: client},
		Gatherer:           reg,
		CORSAllowedOrigins: e.cfg.CORSAllowedOrigins,
		Logger:             logger,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              e.cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			slog.String("addr", e.cfg.ListenAddr),
			slog.String("network", e.cfg.Network),
			slog.Uint64("chainId", e.cfg.ResolvedChainID()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	api.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
