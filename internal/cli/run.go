package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"candle-scanner/internal/health"
	"candle-scanner/internal/scanner"
)

func newRunCmd(app *App) *cobra.Command {
	var noStream bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the refresh, overview and live stream loops",
		Long: `Run loads persisted series, then keeps them current until interrupted:
a refresh cycle every schedule.interval, the overview artifact when it goes
stale, and live candles from the Kite ticker in between.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := app.Config
			rt, err := app.build(ctx, nil, cfg.Overview.Enabled)
			if err != nil {
				return err
			}
			defer rt.Close()

			sc := scanner.Schedule{
				FirstDelay: cfg.Schedule.FirstDelay,
				Interval:   cfg.Schedule.Interval,
				Overview:   cfg.Overview.Enabled,
				Freshness:  cfg.Overview.Freshness,
				Recheck:    cfg.Overview.Recheck,
				RetryEmpty: cfg.Overview.RetryEmpty,
				Observer:   app.Metrics,
			}
			if cfg.Stream.Enabled && !noStream {
				sc.Stream = app.liveSource(rt)
			}
			if addr := cfg.Metrics.Addr; addr != "" {
				sc.Health = health.NewMonitor(health.DefaultConfig(), nil)
				sc.StreamSilence = 15 * time.Minute
				app.Metrics.SetHealth(sc.Health.Handler())
				sc.Services = append(sc.Services, func(ctx context.Context) error {
					return app.Metrics.Serve(ctx, addr, app.Logger)
				})
			}

			app.Logger.Info().
				Bool("stream", sc.Stream != nil).
				Bool("overview", sc.Overview).
				Str("metrics", cfg.Metrics.Addr).
				Msg("Scanner starting")
			return rt.scanner.Run(ctx, sc)
		},
	}

	cmd.Flags().BoolVar(&noStream, "no-stream", false, "disable the live ticker")
	return cmd
}
