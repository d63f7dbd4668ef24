package inputs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadBundle_Minimal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trade_list.csv", "entry_time,exit_time,entry_price,exit_price,pnl,qty,side\n"+
		"2024-01-01T00:00:00Z,2024-01-02T00:00:00Z,100,110,10,1,long\n"+
		"2024-01-03T00:00:00Z,2024-01-04T00:00:00Z,100,110,10,1,long\n")
	writeFile(t, dir, "equity_curve.csv", "time,equity\n2024-01-01T00:00:00Z,10000\n2024-01-04T00:00:00Z,10020\n")

	b, err := LoadBundle(dir)
	require.NoError(t, err)
	require.Equal(t, 2, b.Trades.Len())
	require.Equal(t, 10000.0, b.InitialCapital)
	require.Nil(t, b.Bars)
}

func TestLoadBundle_EmptyTradeListFailsValidation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trade_list.csv", "entry_time,exit_time,entry_price,exit_price,pnl,qty,side\n")
	writeFile(t, dir, "equity_curve.csv", "time,equity\n2024-01-01T00:00:00Z,10000\n")

	_, err := LoadBundle(dir)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoadBundle_NonMonotonicEntryTimeRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trade_list.csv", "entry_time,exit_time,entry_price,exit_price,pnl,qty,side\n"+
		"2024-01-03T00:00:00Z,2024-01-04T00:00:00Z,100,110,10,1,long\n"+
		"2024-01-01T00:00:00Z,2024-01-02T00:00:00Z,100,110,10,1,long\n")
	writeFile(t, dir, "equity_curve.csv", "time,equity\n2024-01-01T00:00:00Z,10000\n")

	_, err := LoadBundle(dir)
	require.Error(t, err)
}

func TestLoadBundle_MissingColumnRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trade_list.csv", "entry_time,exit_time,entry_price,exit_price,pnl,side\n"+
		"2024-01-01T00:00:00Z,2024-01-02T00:00:00Z,100,110,10,long\n")
	writeFile(t, dir, "equity_curve.csv", "time,equity\n2024-01-01T00:00:00Z,10000\n")

	_, err := LoadBundle(dir)
	require.Error(t, err)
}

func TestLoadBundle_WithOhlcIndexesBars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trade_list.csv", "entry_time,exit_time,entry_price,exit_price,pnl,qty,side\n"+
		"2024-01-01T00:00:00Z,2024-01-02T00:00:00Z,100,110,10,1,long\n")
	writeFile(t, dir, "equity_curve.csv", "time,equity\n2024-01-01T00:00:00Z,10000\n2024-01-02T00:00:00Z,10010\n")
	writeFile(t, dir, "ohlc.csv", "time,open,high,low,close\n"+
		"2024-01-01T00:00:00Z,100,105,95,102\n"+
		"2024-01-02T00:00:00Z,102,112,100,110\n")

	b, err := LoadBundle(dir)
	require.NoError(t, err)
	require.NotNil(t, b.Bars)
	require.Equal(t, 0, b.Trades.EntryBarIdx[0])
	require.Equal(t, 1, b.Trades.ExitBarIdx[0])
}

func TestLoadStep1Report_MissingFileTolerated(t *testing.T) {
	rep := LoadStep1Report(filepath.Join(t.TempDir(), "missing.txt"))
	require.False(t, rep.Found)
}

func TestLoadStep1Report_LenientParse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "step1_report.txt", "Strategy: Foo\nProfit Factor: 1.85\nOther: ignored\n")
	rep := LoadStep1Report(filepath.Join(dir, "step1_report.txt"))
	require.True(t, rep.Found)
	require.InDelta(t, 1.85, rep.BaselineProfitFactor, 1e-9)
}
