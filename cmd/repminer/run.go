package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/eth2030/reputation-miner/dispute"
	"github.com/eth2030/reputation-miner/metrics"
)

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Replay the active cycle, submit its root and answer the dispute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := c.cfg

			m := metrics.NopMetrics()
			if cfg.MetricsAddr != "" {
				m = metrics.PrometheusMetrics("repminer")
				srv := serveMetrics(cfg.MetricsAddr, c)
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				}()
			}

			a, err := newApp(ctx, cfg, c.log, m, true)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.miner.BeginCycle(ctx); err != nil {
				return err
			}
			if err := a.miner.ReplayAll(ctx); err != nil {
				if abandonErr := a.miner.Abandon(context.Background()); abandonErr != nil {
					c.log.Error("abandon failed", "err", abandonErr)
				}
				return err
			}
			e, err := dispute.New(a.miner, dispute.Config{
				EntryIndex: cfg.EntryIndex,
				Logger:     c.log.Module("dispute"),
				Metrics:    m,
			})
			if err != nil {
				return err
			}
			err = e.Run(ctx, cfg.PollInterval)
			if errors.Is(err, context.Canceled) {
				c.log.Info("stopped", "state", e.State().String())
				return nil
			}
			return err
		},
	}
}

func serveMetrics(addr string, c *cli) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("metrics server", "err", err)
		}
	}()
	c.log.Info("serving metrics", "addr", addr)
	return srv
}
