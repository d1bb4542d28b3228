// Package report renders backtest results as console tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"tradesim/internal/domain"
	"tradesim/internal/engine"
	"tradesim/internal/metrics"
	"tradesim/internal/store"
)

// Reporter writes tables to an output stream.
type Reporter struct {
	out       io.Writer
	maxTrades int
}

// New creates a Reporter writing to stdout.
func New() *Reporter {
	return &Reporter{out: os.Stdout, maxTrades: 20}
}

// NewWriter creates a Reporter writing to w that lists at most maxTrades
// trades per table (0 lists none, negative lists all).
func NewWriter(w io.Writer, maxTrades int) *Reporter {
	return &Reporter{out: w, maxTrades: maxTrades}
}

// JSON writes v as indented JSON.
func (r *Reporter) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Backtest renders a single-symbol result: summary, metrics, benchmark,
// trades and diagnostics.
func (r *Reporter) Backtest(res *engine.BacktestResult) {
	fmt.Fprintf(r.out, "%s on %s  %s .. %s\n\n", res.Strategy, res.Symbol,
		FormatTime(res.StartTimestamp), FormatTime(res.EndTimestamp))

	r.metrics(res.InitialCapital, res.Metrics)
	if res.Benchmark != nil {
		r.benchmark(res.Benchmark)
	}
	if res.OpenPosition != nil {
		p := res.OpenPosition
		fmt.Fprintf(r.out, "open %s position: %s @ %s since %s\n\n",
			p.Side, FormatQty(p.Quantity), FormatMoney(p.EntryPrice), FormatTime(p.EntryTimestamp))
	}
	r.Trades(res.Trades)
	r.diagnostics(res.Diagnostics)
}

// Portfolio renders a portfolio result: aggregate metrics, a per-symbol
// breakdown and the most recent trades.
func (r *Reporter) Portfolio(res *engine.PortfolioResult) {
	symbols := make([]string, 0, len(res.Symbols))
	for s := range res.Symbols {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	fmt.Fprintf(r.out, "%s portfolio: %s\n\n", res.Strategy, strings.Join(symbols, ", "))

	r.metrics(res.InitialCapital, res.Metrics)

	table := tablewriter.NewWriter(r.out)
	table.Header("Symbol", "Baseline", "Final", "Return", "Trades", "Win rate", "Max DD", "Signals", "Executed")
	for _, s := range symbols {
		sr := res.Symbols[s]
		m := sr.Metrics
		table.Append(
			s,
			FormatMoney(sr.InitialCapital),
			FormatMoney(sr.FinalEquity),
			FormatSignedPct(m.TotalReturnPct),
			strconv.Itoa(m.TotalTrades),
			FormatPct(m.WinRatePct),
			FormatPct(m.MaxDrawdownPct),
			strconv.Itoa(m.SignalsGenerated),
			strconv.Itoa(m.SignalsExecuted),
		)
	}
	table.Render()
	fmt.Fprintln(r.out)

	r.Trades(res.Trades)
	r.diagnostics(res.Diagnostics)
}

func (r *Reporter) metrics(initial float64, m metrics.Metrics) {
	table := tablewriter.NewWriter(r.out)
	table.Header("Metric", "Value")
	rows := [][2]string{
		{"Initial capital", FormatMoney(initial)},
		{"Final equity", FormatMoney(m.FinalEquity)},
		{"Total return", FormatSignedPct(m.TotalReturnPct)},
		{"Annualized return", FormatSignedPct(m.AnnualizedReturnPct)},
		{"Sharpe", FormatRatio(m.SharpeRatio)},
		{"Sortino", FormatRatio(m.SortinoRatio)},
		{"Calmar", FormatRatio(m.CalmarRatio)},
		{"Max drawdown", FormatPct(m.MaxDrawdownPct)},
		{"Max drawdown bars", FormatInt(m.MaxDrawdownBars)},
		{"Trades", fmt.Sprintf("%d (%d long, %d short)", m.TotalTrades, m.LongTrades, m.ShortTrades)},
		{"Win rate", FormatPct(m.WinRatePct)},
		{"Avg win / loss", FormatMoney(m.AvgWin) + " / " + FormatMoney(m.AvgLoss)},
		{"Profit factor", FormatRatio(m.ProfitFactor)},
		{"Largest win / loss", FormatMoney(m.LargestWin) + " / " + FormatMoney(m.LargestLoss)},
		{"Avg holding", FormatDuration(m.AvgHoldingSeconds)},
		{"Commission", FormatMoney(m.TotalCommission)},
		{"Dividends", FormatMoney(m.TotalDividends)},
		{"Signals", fmt.Sprintf("%d generated, %d executed (%s)",
			m.SignalsGenerated, m.SignalsExecuted, FormatPct(m.ExecutionRatePct))},
	}
	for _, row := range rows {
		table.Append(row[0], row[1])
	}
	table.Render()
	fmt.Fprintln(r.out)
}

func (r *Reporter) benchmark(c *metrics.Comparison) {
	table := tablewriter.NewWriter(r.out)
	table.Header("Benchmark", "Value")
	table.Append("Symbol", c.BenchmarkSymbol)
	table.Append("Buy & hold", FormatSignedPct(c.BuyHoldReturnPct))
	table.Append("Benchmark return", FormatSignedPct(c.BenchmarkReturnPct))
	table.Append("Excess return", FormatSignedPct(c.ExcessReturnPct))
	table.Append("Alpha", FormatSignedPct(c.Alpha))
	table.Append("Beta", FormatRatio(c.Beta))
	table.Append("Information ratio", FormatRatio(c.InformationRatio))
	table.Append("Observations", FormatInt(c.Observations))
	table.Render()
	fmt.Fprintln(r.out)
}

// Trades renders the trade ledger, truncated to the most recent maxTrades.
func (r *Reporter) Trades(trades []domain.Trade) {
	if r.maxTrades == 0 || len(trades) == 0 {
		return
	}
	shown := trades
	if r.maxTrades > 0 && len(shown) > r.maxTrades {
		shown = shown[len(shown)-r.maxTrades:]
		fmt.Fprintf(r.out, "last %d of %d trades\n", r.maxTrades, len(trades))
	}

	table := tablewriter.NewWriter(r.out)
	table.Header("#", "Symbol", "Side", "Entry", "Exit", "Qty", "Entry $", "Exit $", "PnL", "Return", "Exit reason")
	offset := len(trades) - len(shown)
	for i, t := range shown {
		table.Append(
			strconv.Itoa(offset+i+1),
			t.Symbol,
			string(t.Side),
			FormatTime(t.EntryTimestamp),
			FormatTime(t.ExitTimestamp),
			FormatQty(t.Quantity),
			FormatMoney(t.EntryPrice),
			FormatMoney(t.ExitPrice),
			FormatMoney(t.PnL),
			FormatSignedPct(t.ReturnPct),
			t.ExitSignal.Reason,
		)
	}
	table.Render()
	fmt.Fprintln(r.out)
}

func (r *Reporter) diagnostics(notes []string) {
	for _, n := range notes {
		fmt.Fprintf(r.out, "note: %s\n", n)
	}
}

// Runs renders stored run summaries.
func (r *Reporter) Runs(runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(r.out, "no stored runs")
		return
	}
	table := tablewriter.NewWriter(r.out)
	table.Header("ID", "Created", "Kind", "Strategy", "Symbols", "Final", "Return", "Sharpe", "Trades")
	for _, run := range runs {
		table.Append(
			run.ID,
			run.CreatedAt.Format("2006-01-02 15:04"),
			run.Kind,
			run.Strategy,
			strings.Join(run.Symbols, ","),
			FormatMoney(run.FinalEquity),
			FormatSignedPct(run.Metrics.TotalReturnPct),
			FormatRatio(run.Metrics.SharpeRatio),
			strconv.Itoa(run.Metrics.TotalTrades),
		)
	}
	table.Render()
}

// Strategies lists registered strategy names.
func (r *Reporter) Strategies(names []string) {
	table := tablewriter.NewWriter(r.out)
	table.Header("Strategy")
	for _, n := range names {
		table.Append(n)
	}
	table.Render()
}
