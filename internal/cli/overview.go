package cli

import (
	"github.com/spf13/cobra"

	"candle-scanner/internal/models"
)

func newOverviewCmd(app *App) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Regenerate the overview table, or print it with --show",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if show {
				st, err := app.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				records, err := st.LoadOverview(ctx)
				if err != nil {
					return err
				}
				printOverview(output, records)
				return nil
			}

			rt, err := app.build(ctx, nil, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.scanner.OverviewCycle(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"records": n})
			}
			if n == 0 {
				output.Warning("No overview records collected, previous table kept")
				return nil
			}
			output.Success("Overview saved: %d records", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the stored overview instead of regenerating it")
	return cmd
}

func printOverview(output *Output, records []models.OverviewRecord) {
	if output.IsJSON() {
		output.JSON(records)
		return
	}
	if len(records) == 0 {
		output.Warning("No overview saved yet")
		return
	}

	table := NewTable(output, "TICKER", "NAME", "SECTOR", "MCAP", "P/E", "DIV%", "SHORT%", "SHORTABLE")
	for _, r := range records {
		shortable := "-"
		if r.Shortable != nil {
			shortable = output.Red("no")
			if *r.Shortable {
				shortable = output.Green("yes")
			}
		}
		table.AddRow(
			output.Cyan(r.Ticker),
			TruncateString(r.Name, 24),
			TruncateString(r.Sector, 18),
			FormatOptional(r.MarketCap, FormatCompact),
			FormatOptional(r.PE, FormatPrice),
			FormatOptional(r.DividendPct, FormatPrice),
			FormatOptional(r.ShortFloatPct, FormatPrice),
			shortable,
		)
	}
	table.Render()
}
