package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"coin-trader/internal/model"
)

var ledgerHeader = []string{
	"type", "time", "signal_price", "execution_price", "quantity", "fee",
	"slippage_cost", "reason", "pnl_pct", "realized_pnl", "balance_after",
}

var sweepHeader = []string{
	"rank", "index", "variant", "rsi_oversold", "stop_loss_pct", "take_profit_pct",
	"max_hold_days", "atr_k", "return_pct", "total_trades", "final_balance",
}

// WriteLedgerCSV writes one row per trade.
func WriteLedgerCSV(path string, trades []model.Trade) error {
	return writeCSV(path, ledgerHeader, len(trades), func(i int) []string {
		t := trades[i]
		row := []string{
			string(t.Type),
			t.Time.UTC().Format(time.DateTime),
			t.SignalPrice.String(),
			t.ExecutionPrice.String(),
			t.Quantity.String(),
			t.Fee.StringFixed(4),
			t.SlippageCost.StringFixed(4),
			string(t.Reason),
			"",
			"",
			t.BalanceAfter.StringFixed(4),
		}
		if t.Type == model.TradeSell {
			row[8] = ftoa(t.PnLPct)
			row[9] = t.RealizedPnL.StringFixed(4)
		}
		return row
	})
}

// WriteSweepCSV writes ranked sweep results, best first.
func WriteSweepCSV(path string, results []model.SweepResult) error {
	return writeCSV(path, sweepHeader, len(results), func(i int) []string {
		r := results[i]
		return []string{
			strconv.Itoa(i + 1),
			strconv.Itoa(r.Index),
			string(r.Params.Variant),
			ftoa(r.Params.RSIOversold),
			ftoa(r.Params.StopLossPct),
			ftoa(r.Params.TakeProfitPct),
			ftoa(r.Params.MaxHoldDays),
			ftoa(r.Params.ATRK),
			ftoa(r.ReturnPct),
			strconv.Itoa(r.TotalClosedTrades),
			r.FinalBalance.StringFixed(4),
		}
	})
}

func writeCSV(path string, header []string, n int, row func(i int) []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}

func ftoa(x float64) string { return strconv.FormatFloat(x, 'f', 4, 64) }
