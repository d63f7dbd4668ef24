package persist

import (
	"encoding/json"
	"os"
	"time"
)

// Progress is the per-cell advisory snapshot written at each checkpoint.
// It is never consulted to decide where a resumed run should continue;
// metrics_compact.csv alone is authoritative for that.
type Progress struct {
	CellID      string    `json:"cell_id"`
	NTarget     uint32    `json:"n_target"`
	NCompleted  uint32    `json:"n_completed"`
	Degenerate  uint32    `json:"degenerate_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MetricQuantiles is the p05/p50/p95/mean/std summary of one metric's
// distribution across every permutation in a cell.
type MetricQuantiles struct {
	P05  float64 `json:"p05"`
	P50  float64 `json:"p50"`
	P95  float64 `json:"p95"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Summary is the per-cell final record written once production of a cell
// completes.
type Summary struct {
	CellID          string `json:"cell_id"`
	NTarget         uint32 `json:"n_target"`
	NCompleted      uint32 `json:"n_completed"`
	DegenerateCount uint32 `json:"degenerate_count"`

	TotalReturnPct MetricQuantiles `json:"total_return_pct"`
	MaxDrawdownPct MetricQuantiles `json:"max_drawdown_pct"`
	ProfitFactor   MetricQuantiles `json:"profit_factor"`
	WorstMonthPct  MetricQuantiles `json:"worst_month_pct"`

	PctProfitFactorLT1 float64 `json:"pct_profit_factor_lt1"`
	RobustScore        float64 `json:"robust_score"`

	PValueVsBaseline float64 `json:"p_value_vs_baseline,omitempty"`
	PCorrected       float64 `json:"p_corrected,omitempty"`
	NGridTotal       int     `json:"n_grid_total"`
	NGridFiltered    int     `json:"n_grid_filtered"`

	// Integrity fields, carried from the dedupe step in persist.LoadMetrics.
	NRowsRaw           int `json:"n_rows_raw"`
	NDuplicatesDropped int `json:"n_duplicates_dropped"`
	NRowsDeduped       int `json:"n_rows_deduped"`

	FinishedAt time.Time `json:"finished_at"`
}

// WriteProgress atomically writes p to path.
func WriteProgress(path string, p Progress) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data, 0644)
}

// WriteSummary atomically writes s to path.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data, 0644)
}

// ReadProgress loads a previously written progress snapshot, reporting
// ok=false if the file does not exist.
func ReadProgress(path string) (p Progress, ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Progress{}, false, nil
	}
	if err != nil {
		return Progress{}, false, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, false, err
	}
	return p, true, nil
}

// ReadSummary loads a previously written summary, reporting ok=false if the
// file does not exist.
func ReadSummary(path string) (s Summary, ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, false, err
	}
	return s, true, nil
}

// AppendLogLine appends one line to the run's logs.txt, prefixed with an
// RFC3339 timestamp. Unlike the JSON snapshots this is a plain append: it is
// a human-facing event trail, not a resume input, so partial lines left by a
// crash are harmless.
func AppendLogLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(time.Now().UTC().Format(time.RFC3339) + " " + line + "\n")
	return err
}
