package perf

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// WriteSamplesCSV exports raw metrics for offline analysis.
func WriteSamplesCSV(path string, samples []Metric) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("perf: create csv: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	header := []string{"operation", "scale", "duration_us", "throughput_ops_s", "memory_delta_bytes", "concurrency", "timestamp"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("perf: write csv header: %w", err)
	}
	for _, m := range samples {
		record := []string{
			m.Operation,
			strconv.Itoa(m.Scale),
			strconv.FormatInt(m.Duration.Microseconds(), 10),
			strconv.FormatFloat(m.Throughput, 'f', 3, 64),
			strconv.FormatInt(m.MemoryDelta, 10),
			strconv.Itoa(m.Concurrency),
			m.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("perf: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("perf: flush csv: %w", err)
	}
	return nil
}

type parquetSample struct {
	Operation        string  `parquet:"name=operation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Scale            int64   `parquet:"name=scale, type=INT64"`
	DurationMicros   int64   `parquet:"name=duration_us, type=INT64"`
	Throughput       float64 `parquet:"name=throughput_ops_s, type=DOUBLE"`
	MemoryDeltaBytes int64   `parquet:"name=memory_delta_bytes, type=INT64"`
	Concurrency      int32   `parquet:"name=concurrency, type=INT32"`
	TimestampMillis  int64   `parquet:"name=timestamp_ms, type=INT64"`
}

// WriteSamplesParquet exports raw metrics as a SNAPPY-compressed parquet
// file with one row per metric.
func WriteSamplesParquet(path string, samples []Metric) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("perf: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetSample), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("perf: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, m := range samples {
		row := &parquetSample{
			Operation:        m.Operation,
			Scale:            int64(m.Scale),
			DurationMicros:   m.Duration.Microseconds(),
			Throughput:       m.Throughput,
			MemoryDeltaBytes: m.MemoryDelta,
			Concurrency:      int32(m.Concurrency),
			TimestampMillis:  m.Timestamp.UTC().UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("perf: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("perf: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("perf: close parquet file: %w", err)
	}
	return nil
}
