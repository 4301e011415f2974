package cli

import (
	"github.com/spf13/cobra"

	"candle-scanner/internal/models"
)

func newSummaryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <interval>",
		Short: "Print the latest summary table of an interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iv, err := models.ParseInterval(args[0])
			if err != nil {
				return err
			}
			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			rows, err := st.LoadSummary(cmd.Context(), iv)
			if err != nil {
				return err
			}
			printSummary(NewOutput(cmd), iv, rows)
			return nil
		},
	}
}

type summaryJSON struct {
	Ticker string  `json:"ticker"`
	Time   string  `json:"time"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	EMA20  float64 `json:"ema_20"`
	EMA50  float64 `json:"ema_50"`
	RSI14  float64 `json:"rsi_14"`
	MACDh  float64 `json:"macd_hist"`
	ATR14  float64 `json:"atr_14"`
}

func printSummary(output *Output, iv models.Interval, rows []models.SummaryRow) {
	if output.IsJSON() {
		out := make([]summaryJSON, 0, len(rows))
		for _, r := range rows {
			out = append(out, summaryJSON{
				Ticker: r.Ticker,
				Time:   r.Time.UTC().Format("2006-01-02T15:04:05Z"),
				Close:  r.Close,
				Volume: r.Volume,
				EMA20:  r.EMA20,
				EMA50:  r.EMA50,
				RSI14:  r.RSI14,
				MACDh:  r.MACDHist,
				ATR14:  r.ATR14,
			})
		}
		output.JSON(out)
		return
	}

	if len(rows) == 0 {
		output.Warning("No summary for %s yet", iv)
		return
	}

	table := NewTable(output, "TICKER", "TIME", "CLOSE", "VOLUME", "EMA20", "EMA50", "RSI14", "MACDh", "ATR14")
	for _, r := range rows {
		trend := output.Signed(r.Close-r.EMA20, FormatPrice(r.Close))
		table.AddRow(
			output.Cyan(r.Ticker),
			FormatCandleTime(r.Time, iv.Intraday()),
			trend,
			FormatVolume(r.Volume),
			FormatPrice(r.EMA20),
			FormatPrice(r.EMA50),
			output.RSI(r.RSI14),
			output.Signed(r.MACDHist, FormatPrice(r.MACDHist)),
			FormatPrice(r.ATR14),
		)
	}
	table.Render()
}
