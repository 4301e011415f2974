package cli

import (
	"github.com/spf13/cobra"

	"candle-scanner/internal/models"
)

func newBackfillCmd(app *App) *cobra.Command {
	var intervals []string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill every series once, publish summaries and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			var ivs []models.Interval
			if len(intervals) > 0 {
				parsed, err := models.ParseIntervals(intervals)
				if err != nil {
					return err
				}
				ivs = parsed
			}

			rt, err := app.build(ctx, ivs, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.scanner.Load(ctx); err != nil {
				app.Logger.Warn().Err(err).Msg("Some persisted series could not be loaded")
			}

			type status struct {
				Interval string `json:"interval"`
				Series   int    `json:"series"`
				Filled   int    `json:"filled"`
				Error    string `json:"error,omitempty"`
			}
			var report []status
			var failed error
			for _, iv := range rt.scanner.Intervals() {
				err := rt.scanner.RefreshInterval(ctx, iv)
				st := status{Interval: iv.String()}
				for _, s := range rt.scanner.Registry().ByInterval(iv) {
					st.Series++
					if s.Filled() {
						st.Filled++
					}
				}
				if err != nil {
					st.Error = err.Error()
					failed = err
				}
				report = append(report, st)
			}

			if output.IsJSON() {
				if err := output.JSON(report); err != nil {
					return err
				}
				return failed
			}
			for _, st := range report {
				line := output.Green("ok")
				if st.Error != "" {
					line = output.Red("partial")
				}
				output.Printf("%-4s %3d/%-3d %s\n", st.Interval, st.Filled, st.Series, line)
			}
			return failed
		},
	}

	cmd.Flags().StringSliceVarP(&intervals, "interval", "i", nil, "intervals to fill (default: configured list)")
	return cmd
}
