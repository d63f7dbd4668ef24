package persist

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/montecarlo-stress/internal/model"
)

const metricsHeader = "perm_index,total_return_pct,max_drawdown_pct,profit_factor,worst_month_pct,trades_executed"

// MetricsWriter appends MetricsRow records to metrics_compact.csv. It never
// rewrites prior rows: resume dedupe is handled separately by LoadMetrics,
// keeping the hot path a pure append.
type MetricsWriter struct {
	f *os.File
	w *bufio.Writer
}

// OpenMetricsWriter opens path for appending, writing the header first if
// the file does not already exist.
func OpenMetricsWriter(path string) (*MetricsWriter, error) {
	_, statErr := os.Stat(path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	if needsHeader {
		if _, err := w.WriteString(metricsHeader + "\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &MetricsWriter{f: f, w: w}, nil
}

// Append writes one row. Callers are expected to Flush periodically (at
// each checkpoint) rather than after every row.
func (mw *MetricsWriter) Append(row model.MetricsRow) error {
	_, err := fmt.Fprintf(mw.w, "%d,%g,%g,%g,%g,%d\n",
		row.PermIndex, row.TotalReturnPct, row.MaxDrawdownPct, row.ProfitFactor, row.WorstMonthPct, row.TradesExecuted)
	return err
}

// Flush forces buffered rows and the underlying file's data to durable
// storage, the unit of crash-safety a checkpoint provides.
func (mw *MetricsWriter) Flush() error {
	if err := mw.w.Flush(); err != nil {
		return err
	}
	return mw.f.Sync()
}

func (mw *MetricsWriter) Close() error {
	if err := mw.Flush(); err != nil {
		mw.f.Close()
		return err
	}
	return mw.f.Close()
}

// LoadResult is the outcome of reading and deduping an existing
// metrics_compact.csv.
type LoadResult struct {
	Rows     []model.MetricsRow
	StartIdx uint32 // next perm_index to produce; 0 if the file was absent/empty

	// Integrity counters from the dedupe pass, for summary.json.
	NRowsRaw          int // rows parsed off disk, before dedupe/truncation
	NDuplicatesDropped int
	NRowsDeduped      int // len(Rows): rows actually kept after dedupe/truncation

	// rewriteNeeded is true when the on-disk file held duplicates, a
	// trailing malformed row, or rows beyond nTarget: the file no longer
	// matches Rows and must be rewritten atomically by the caller.
	rewriteNeeded bool
}

// LoadMetrics reads path (if present), discards a trailing malformed row (a
// partial write left behind by a crash mid-append), deduplicates by
// perm_index keeping the first occurrence of each, sorts by perm_index, and
// reports the resume position. nTarget truncates the kept rows to the first
// nTarget permutations in case a prior run's target was higher than the
// current one. Resume position is max(perm_index)+1 over the surviving,
// deduped, sorted rows (0 if none) — never the first gap in the sequence,
// since a prior chunk's rows already on disk past a gap must not be
// reproduced. If the file on disk doesn't already match the deduped,
// truncated result (duplicates, a discarded trailing row, or rows beyond
// nTarget), it is rewritten atomically to the canonical form before
// returning.
func LoadMetrics(path string, nTarget uint32) (LoadResult, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return LoadResult{}, nil
	}
	if err != nil {
		return LoadResult{}, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	seen := make(map[uint32]model.MetricsRow)
	order := make([]uint32, 0)
	lineNo := 0
	nRowsRaw := 0
	nDuplicates := 0
	trailingMalformed := false

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 {
			continue // header
		}
		if line == "" {
			continue
		}
		row, err := parseMetricsLine(line)
		if err != nil {
			// Skip the malformed row. A crash mid-append leaves one at the
			// end of the file; only a malformed final row marks the file
			// for rewrite, and malformed rows earlier in the file are
			// skipped without being counted.
			trailingMalformed = true
			continue
		}
		trailingMalformed = false
		nRowsRaw++
		if _, dup := seen[row.PermIndex]; dup {
			nDuplicates++
		} else {
			seen[row.PermIndex] = row
			order = append(order, row.PermIndex)
		}
	}
	if err := scanner.Err(); err != nil {
		f.Close()
		return LoadResult{}, err
	}
	f.Close()

	truncated := 0
	rows := make([]model.MetricsRow, 0, len(order))
	for _, idx := range order {
		row := seen[idx]
		if row.PermIndex < nTarget {
			rows = append(rows, row)
		} else {
			truncated++
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PermIndex < rows[j].PermIndex })

	startIdx := uint32(0)
	if len(rows) > 0 {
		startIdx = rows[len(rows)-1].PermIndex + 1
	}

	result := LoadResult{
		Rows:               rows,
		StartIdx:           startIdx,
		NRowsRaw:           nRowsRaw,
		NDuplicatesDropped: nDuplicates,
		NRowsDeduped:       len(rows),
		rewriteNeeded:      nDuplicates > 0 || trailingMalformed || truncated > 0,
	}

	if result.rewriteNeeded {
		if err := rewriteMetricsFile(path, rows); err != nil {
			return LoadResult{}, fmt.Errorf("rewrite metrics_compact.csv after dedupe: %w", err)
		}
	}

	return result, nil
}

// rewriteMetricsFile atomically replaces path's contents with the header
// followed by rows, already sorted and deduped. Called whenever LoadMetrics
// finds the on-disk file does not already match that canonical form.
func rewriteMetricsFile(path string, rows []model.MetricsRow) error {
	var buf bytes.Buffer
	buf.WriteString(metricsHeader + "\n")
	for _, row := range rows {
		fmt.Fprintf(&buf, "%d,%g,%g,%g,%g,%d\n",
			row.PermIndex, row.TotalReturnPct, row.MaxDrawdownPct, row.ProfitFactor, row.WorstMonthPct, row.TradesExecuted)
	}
	return AtomicWriteFile(path, buf.Bytes(), 0644)
}

func parseMetricsLine(line string) (model.MetricsRow, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return model.MetricsRow{}, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}
	permIndex, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return model.MetricsRow{}, err
	}
	totalReturn, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return model.MetricsRow{}, err
	}
	maxDD, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return model.MetricsRow{}, err
	}
	pf, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return model.MetricsRow{}, err
	}
	worstMonth, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return model.MetricsRow{}, err
	}
	tradesExecuted, err := strconv.ParseUint(fields[5], 10, 32)
	if err != nil {
		return model.MetricsRow{}, err
	}
	return model.MetricsRow{
		PermIndex:      uint32(permIndex),
		TotalReturnPct: totalReturn,
		MaxDrawdownPct: maxDD,
		ProfitFactor:   pf,
		WorstMonthPct:  worstMonth,
		TradesExecuted: uint32(tradesExecuted),
	}, nil
}
