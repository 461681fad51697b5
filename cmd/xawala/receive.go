package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xawala/metrics"
)

type ReceiveOptions struct {
	Global *GlobalOptions

	Group       string
	MetricsAddr string
	PrintJSON   bool
}

func NewReceiveCommand(global *GlobalOptions) *cobra.Command {
	opts := &ReceiveOptions{Global: global}

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Consume incoming service messages and log them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Group, "group", "", "Consumer group (overrides the configured group)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	flags.BoolVar(&opts.PrintJSON, "json", false, "Print each message as JSON on stdout")

	return cmd
}

func (o *ReceiveOptions) Run(ctx context.Context) error {
	cfg, err := o.Global.loadConfig()
	if err != nil {
		return err
	}
	if o.Group != "" {
		cfg.Group = o.Group
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observers []xawala.Observer
	if cfg.Metrics.Addr != "" {
		obs, err := metrics.NewObserver(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		observers = append(observers, obs)
	}

	ep, cleanup, err := buildEndpoint(cfg, logger, observers...)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() { _ = ep.Close(context.Background()) }()

	if cfg.Metrics.Addr != "" {
		if err := metrics.RegisterEndpoint(prometheus.DefaultRegisterer, ep); err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newMetricsRouter(ep),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
	}

	sub, err := ep.Receive(ctx, cfg.Group, o.handler(logger))
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	defer func() { _ = sub.Close() }()

	logger.Info().
		Str("topic", ep.Topics().Incoming).
		Str("group", cfg.Group).
		Msg("receiving service messages; press Ctrl+C to exit")

	<-ctx.Done()
	logger.Info().Msg("shutdown complete")
	return nil
}

func (o *ReceiveOptions) handler(logger *xlog.Logger) xawala.IncomingHandler {
	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	return func(ctx context.Context, msg xawala.IncomingServiceMessage) error {
		logger.Info().
			Str("parcel_id", msg.ParcelID).
			Str("sender", msg.SenderID).
			Str("recipient", msg.RecipientID).
			Str("content_type", msg.ContentType).
			Str("expiry", xawala.FormatTimestamp(msg.ExpiryDate)).
			Msg("service message received")
		if o.PrintJSON {
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(msg)
		}
		return nil
	}
}

func newMetricsRouter(ep *xawala.Endpoint) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		h := ep.Health(req.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  h.Status,
			"message": h.Message,
			"metrics": h.Metrics,
		})
	})
	return r
}
