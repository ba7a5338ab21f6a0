package perf

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func exportSamples() []Metric {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []Metric{
		{Operation: "store.set", Scale: 1000, Duration: 10 * time.Millisecond, Throughput: 100000, MemoryDelta: 4096, Concurrency: 8, Timestamp: ts},
		{Operation: "store.set", Scale: 10000, Duration: 100 * time.Millisecond, Throughput: 100000, MemoryDelta: 40960, Concurrency: 8, Timestamp: ts.Add(time.Second)},
	}
}

func TestWriteSamplesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	if err := WriteSamplesCSV(path, exportSamples()); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "operation" || rows[0][2] != "duration_us" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "store.set" || rows[1][1] != "1000" || rows[1][2] != "10000" {
		t.Fatalf("first row = %v", rows[1])
	}
	if rows[2][4] != "40960" {
		t.Fatalf("memory delta = %q", rows[2][4])
	}
}

func TestWriteSamplesCSVEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := WriteSamplesCSV(path, nil); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want header only", len(rows))
	}
}

func TestWriteSamplesParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.parquet")
	if err := WriteSamplesParquet(path, exportSamples()); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat parquet: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("parquet file is empty")
	}
}
