package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tradesim.yaml")
	content := "storage:\n  data_dir: " + filepath.Join(dir, "data") + "\n  sqlite_path: " + filepath.Join(dir, "runs.db") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "tradesim "+version) {
		t.Errorf("version output = %q", out)
	}
}

func TestStrategiesCommand(t *testing.T) {
	out, err := execute(t, "--config", testConfig(t), "strategies")
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	for _, name := range []string{"sma_cross", "rsi_reversion", "macd_trend", "bollinger_breakout"} {
		if !strings.Contains(out, name) {
			t.Errorf("strategies output missing %q:\n%s", name, out)
		}
	}
}

func TestRunsCommandEmpty(t *testing.T) {
	out, err := execute(t, "--config", testConfig(t), "runs")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no stored runs") {
		t.Errorf("runs output = %q", out)
	}
}

func TestRunWithoutDataFails(t *testing.T) {
	_, err := execute(t, "--config", testConfig(t), "run", "AAPL", "--start", "2024-01-01", "--end", "2024-02-01")
	if err == nil || !strings.Contains(err.Error(), "no 1d candles stored for AAPL") {
		t.Errorf("run error = %v", err)
	}
}

func TestRunRejectsBadParam(t *testing.T) {
	_, err := execute(t, "--config", testConfig(t), "run", "AAPL", "-p", "short=abc")
	if err == nil {
		t.Error("expected error for a non-numeric parameter")
	}
}

func TestReadSymbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.csv")
	if err := os.WriteFile(path, []byte("# universe\nAAPL\n\nMSFT,Microsoft\n  GOOGL  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := readSymbols(path)
	if err != nil {
		t.Fatalf("readSymbols: %v", err)
	}
	if strings.Join(got, " ") != "AAPL MSFT GOOGL" {
		t.Errorf("readSymbols = %v", got)
	}
}
