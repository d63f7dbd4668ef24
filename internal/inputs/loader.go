// Package inputs reads the trade list, equity curve, and optional OHLC bar
// series into the Struct-of-Arrays form internal/model defines, validating
// shapes and monotonicity as it goes.
package inputs

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/montecarlo-stress/internal/model"
)

// Bundle is everything the perturbation kernel needs for one run: the
// baseline trades, the equity curve, and (optionally) the bar series.
type Bundle struct {
	Trades      model.Trades
	Equity      model.EquityCurve
	Bars        *model.OhlcBars // nil if ohlc.csv was not supplied
	BarReturns  []float64       // global empirical per-bar return series, derived from Equity
	InitialCapital float64
}

// LoadBundle reads trade_list.csv (required), equity_curve.csv (required),
// and ohlc.csv (optional) from dir, returning a validated Bundle.
func LoadBundle(dir string) (*Bundle, error) {
	trades, err := loadTrades(fileIn(dir, "trade_list.csv"))
	if err != nil {
		return nil, err
	}
	equity, err := loadEquity(fileIn(dir, "equity_curve.csv"))
	if err != nil {
		return nil, err
	}
	if trades.Len() == 0 {
		return nil, newValidationError(fileIn(dir, "trade_list.csv"), 0, "trade list is empty")
	}
	if equity.Time == nil || len(equity.Time) == 0 {
		return nil, newValidationError(fileIn(dir, "equity_curve.csv"), 0, "equity curve is empty")
	}

	b := &Bundle{
		Trades:         *trades,
		Equity:         *equity,
		InitialCapital: equity.Equity[0],
	}
	b.BarReturns = computeReturns(equity.Equity)

	ohlcPath := fileIn(dir, "ohlc.csv")
	if fileExists(ohlcPath) {
		bars, err := loadOhlc(ohlcPath)
		if err != nil {
			return nil, err
		}
		b.Bars = bars
		if err := indexTradeBars(&b.Trades, bars, ohlcPath); err != nil {
			return nil, err
		}
	} else {
		b.Trades.EntryBarIdx = nil
		b.Trades.ExitBarIdx = nil
	}

	return b, nil
}

func fileIn(dir, name string) string { return dir + string(os.PathSeparator) + name }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func computeReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, (equity[i]-equity[i-1])/equity[i-1])
	}
	return rets
}

func openCSV(path string) (*csv.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ValidationError{Path: path, Msg: fmt.Sprintf("failed to open: %v", err)}
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	return r, f, nil
}

func headerIndex(path string, header []string, required ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, col := range required {
		if _, ok := idx[col]; !ok {
			return nil, newValidationError(path, 1, "missing required column %q", col)
		}
	}
	return idx, nil
}

func parseTime(path string, row int, field, col string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, field)
	if err != nil {
		// tolerate a bare date or space-separated timestamp, both common in
		// hand-exported backtest CSVs.
		if t2, err2 := time.Parse("2006-01-02 15:04:05", field); err2 == nil {
			return t2, nil
		}
		if t2, err2 := time.Parse("2006-01-02", field); err2 == nil {
			return t2, nil
		}
		return time.Time{}, newValidationError(path, row, "column %q: invalid ISO-8601 timestamp %q: %v", col, field, err)
	}
	return t, nil
}

func parseFloat(path string, row int, field, col string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, newValidationError(path, row, "column %q: invalid number %q: %v", col, field, err)
	}
	return v, nil
}

func loadTrades(path string) (*model.Trades, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := r.Read()
	if err != nil {
		return nil, newValidationError(path, 0, "failed to read header: %v", err)
	}
	idx, err := headerIndex(path, header, "entry_time", "exit_time", "entry_price", "exit_price", "pnl", "qty", "side")
	if err != nil {
		return nil, err
	}
	hasRisk := false
	if _, ok := idx["risk_dollars"]; ok {
		hasRisk = true
	}

	t := &model.Trades{}
	row := 1
	var prevEntry time.Time
	for {
		row++
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newValidationError(path, row, "malformed row: %v", err)
		}

		entryTime, err := parseTime(path, row, rec[idx["entry_time"]], "entry_time")
		if err != nil {
			return nil, err
		}
		exitTime, err := parseTime(path, row, rec[idx["exit_time"]], "exit_time")
		if err != nil {
			return nil, err
		}
		if !exitTime.After(entryTime) && !exitTime.Equal(entryTime) {
			return nil, newValidationError(path, row, "exit_time %s precedes entry_time %s", exitTime, entryTime)
		}
		if t.Len() > 0 && entryTime.Before(prevEntry) {
			return nil, newValidationError(path, row, "entry_time %s is not monotonically increasing (previous %s)", entryTime, prevEntry)
		}
		prevEntry = entryTime

		entryPrice, err := parseFloat(path, row, rec[idx["entry_price"]], "entry_price")
		if err != nil {
			return nil, err
		}
		exitPrice, err := parseFloat(path, row, rec[idx["exit_price"]], "exit_price")
		if err != nil {
			return nil, err
		}
		pnl, err := parseFloat(path, row, rec[idx["pnl"]], "pnl")
		if err != nil {
			return nil, err
		}
		qty, err := parseFloat(path, row, rec[idx["qty"]], "qty")
		if err != nil {
			return nil, err
		}

		sideStr := strings.ToLower(strings.TrimSpace(rec[idx["side"]]))
		var side model.Side
		switch sideStr {
		case "long", "buy":
			side = model.SideLong
		case "short", "sell":
			side = model.SideShort
		default:
			return nil, newValidationError(path, row, "column %q: unrecognized side %q", "side", rec[idx["side"]])
		}

		riskDollars := math.Abs(entryPrice * qty)
		if hasRisk {
			v, err := parseFloat(path, row, rec[idx["risk_dollars"]], "risk_dollars")
			if err != nil {
				return nil, err
			}
			riskDollars = v
		}

		t.EntryTime = append(t.EntryTime, entryTime)
		t.ExitTime = append(t.ExitTime, exitTime)
		t.EntryPrice = append(t.EntryPrice, entryPrice)
		t.ExitPrice = append(t.ExitPrice, exitPrice)
		t.Quantity = append(t.Quantity, qty)
		t.Side = append(t.Side, side)
		t.PnL = append(t.PnL, pnl)
		t.RiskDollars = append(t.RiskDollars, riskDollars)
	}

	return t, nil
}

func loadEquity(path string) (*model.EquityCurve, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := r.Read()
	if err != nil {
		return nil, newValidationError(path, 0, "failed to read header: %v", err)
	}
	idx, err := headerIndex(path, header, "time", "equity")
	if err != nil {
		return nil, err
	}

	e := &model.EquityCurve{}
	row := 1
	var prev time.Time
	for {
		row++
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newValidationError(path, row, "malformed row: %v", err)
		}
		ts, err := parseTime(path, row, rec[idx["time"]], "time")
		if err != nil {
			return nil, err
		}
		if e.Time != nil && len(e.Time) > 0 && ts.Before(prev) {
			return nil, newValidationError(path, row, "time %s is not monotonically increasing", ts)
		}
		prev = ts
		eq, err := parseFloat(path, row, rec[idx["equity"]], "equity")
		if err != nil {
			return nil, err
		}
		e.Time = append(e.Time, ts)
		e.Equity = append(e.Equity, eq)
	}
	return e, nil
}

func loadOhlc(path string) (*model.OhlcBars, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := r.Read()
	if err != nil {
		return nil, newValidationError(path, 0, "failed to read header: %v", err)
	}
	idx, err := headerIndex(path, header, "time", "open", "high", "low", "close")
	if err != nil {
		return nil, err
	}

	b := &model.OhlcBars{}
	row := 1
	var prev time.Time
	for {
		row++
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newValidationError(path, row, "malformed row: %v", err)
		}
		ts, err := parseTime(path, row, rec[idx["time"]], "time")
		if err != nil {
			return nil, err
		}
		if b.Len() > 0 && !ts.After(prev) {
			return nil, newValidationError(path, row, "time %s is not strictly monotonically increasing", ts)
		}
		prev = ts

		open, err := parseFloat(path, row, rec[idx["open"]], "open")
		if err != nil {
			return nil, err
		}
		high, err := parseFloat(path, row, rec[idx["high"]], "high")
		if err != nil {
			return nil, err
		}
		low, err := parseFloat(path, row, rec[idx["low"]], "low")
		if err != nil {
			return nil, err
		}
		close_, err := parseFloat(path, row, rec[idx["close"]], "close")
		if err != nil {
			return nil, err
		}

		b.Time = append(b.Time, ts)
		b.Open = append(b.Open, open)
		b.High = append(b.High, high)
		b.Low = append(b.Low, low)
		b.Close = append(b.Close, close_)
	}
	return b, nil
}

// indexTradeBars maps each trade's entry/exit time to a bar index via
// exact-match lookup.
func indexTradeBars(t *model.Trades, bars *model.OhlcBars, path string) error {
	lookup := make(map[int64]int, bars.Len())
	for i, ts := range bars.Time {
		lookup[ts.Unix()] = i
	}

	t.EntryBarIdx = make([]int, t.Len())
	t.ExitBarIdx = make([]int, t.Len())
	for i := 0; i < t.Len(); i++ {
		entryIdx, ok := lookup[t.EntryTime[i].Unix()]
		if !ok {
			return newValidationError(path, 0, "trade %d entry_time %s has no matching bar", i, t.EntryTime[i])
		}
		exitIdx, ok := lookup[t.ExitTime[i].Unix()]
		if !ok {
			return newValidationError(path, 0, "trade %d exit_time %s has no matching bar", i, t.ExitTime[i])
		}
		t.EntryBarIdx[i] = entryIdx
		t.ExitBarIdx[i] = exitIdx
	}
	return nil
}

// Step1Report is the lenient, best-effort parse of the optional baseline
// report used for the p-value computation in summary.json.
type Step1Report struct {
	BaselineProfitFactor float64
	Found                bool
}

// LoadStep1Report parses step1_report.txt leniently: missing fields are
// tolerated, and a missing file returns a zero-value report with Found=false
// rather than an error.
func LoadStep1Report(path string) Step1Report {
	data, err := os.ReadFile(path)
	if err != nil {
		return Step1Report{}
	}
	rep := Step1Report{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.Contains(lower, "profit factor") || strings.Contains(lower, "profit_factor") {
			parts := strings.FieldsFunc(line, func(r rune) bool { return r == ':' || r == '=' })
			if len(parts) >= 2 {
				if v, err := strconv.ParseFloat(strings.TrimSpace(parts[len(parts)-1]), 64); err == nil {
					rep.BaselineProfitFactor = v
					rep.Found = true
				}
			}
		}
	}
	return rep
}

// sortedCopy returns a sorted copy of xs (ascending).
func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}
