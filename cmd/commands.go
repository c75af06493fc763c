package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/macho715/marine-weather-dashboard/config"
	"github.com/macho715/marine-weather-dashboard/internal/handler"
	"github.com/macho715/marine-weather-dashboard/internal/healthcheck"
	"github.com/macho715/marine-weather-dashboard/internal/httpserver"
	"github.com/macho715/marine-weather-dashboard/pkg/logger"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "marine-weather-dashboard",
		Short:         "Marine weather snapshots per port, guarded against a flaky upstream",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, runServe)
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newProbeCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(cmd, runServe)
		},
	}
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Fetch one port snapshot through the guarded client and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetString("port")
			return withConfig(cmd, func(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
				return runProbe(ctx, cfg, log, port, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringP("port", "p", "", "Port code (defaults to marine.default_port)")
	return cmd
}

func withConfig(cmd *cobra.Command, run func(context.Context, *config.Config, *slog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, true, cfg.Server.Environment)
	return run(cmd.Context(), cfg, log)
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", slog.Any("err", err))
		return err
	}
	defer a.Close()

	marineHandler := handler.NewMarineHandler(handler.Config{
		Service:  a.service,
		Breakers: a.client.Breakers(),
		Pool:     a.pool,
		Recorder: a.collector,
		Logger:   log,
	})

	srv, err := httpserver.New(
		cfg.Server.Address,
		setupRouter(marineHandler, a.collector),
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
	)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.collector.Run(gctx)
	})

	if cfg.Prewarm.Enabled {
		g.Go(func() error {
			healthcheck.Prewarm(gctx, a.service, cfg.Prewarm.Interval, nil, log)
			return nil
		})
	}

	g.Go(func() error {
		log.Info("Marine weather API listening",
			slog.String("addr", srv.Addr()),
			slog.String("strategy", cfg.Upstream.Strategy),
			slog.String("cache_backend", cfg.Cache.Backend))
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
			return err
		}
		return nil
	})

	return g.Wait()
}

type probeOutput struct {
	Port        string   `json:"port"`
	Hs          *float64 `json:"hs"`
	WindKt      *float64 `json:"windKt"`
	SwellPeriod *float64 `json:"swellPeriod"`
	IOI         int      `json:"ioi"`
	Source      string   `json:"source"`
	FetchedAt   string   `json:"fetchedAt"`
	Cached      bool     `json:"cached"`
	Stale       bool     `json:"stale"`
}

func runProbe(ctx context.Context, cfg *config.Config, log *slog.Logger, port string, out io.Writer) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.service.Snapshot(ctx, port)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(probeOutput{
		Port:        report.Port.Code,
		Hs:          report.Hs,
		WindKt:      report.WindKt,
		SwellPeriod: report.SwellPeriod,
		IOI:         report.IOI,
		Source:      report.Source,
		FetchedAt:   report.FetchedAt.UTC().Format(handler.ISOMillis),
		Cached:      report.Cached,
		Stale:       report.Stale,
	})
}
