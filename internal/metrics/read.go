package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"netsentinel/internal/model"
)

// Export is a session reconstructed from a CSV export.
type Export struct {
	SessionID string
	Targets   map[string][]model.Sample
}

// ReadCSV loads an exported session from a CSV file.
func ReadCSV(path string) (Export, error) {
	file, err := os.Open(path)
	if err != nil {
		return Export{}, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) (Export, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return Export{}, err
	}

	out := Export{Targets: map[string][]model.Sample{}}
	if len(records) == 0 {
		return out, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == csvHeader[0] {
		start = 1
	}

	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(csvHeader) {
			return Export{}, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[3])
		if err != nil {
			return Export{}, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		latency, err := strconv.Atoi(rec[4])
		if err != nil {
			return Export{}, fmt.Errorf("invalid latency at line %d: %w", i+1, err)
		}
		jitter, err := strconv.Atoi(rec[5])
		if err != nil {
			return Export{}, fmt.Errorf("invalid jitter at line %d: %w", i+1, err)
		}
		success, err := strconv.ParseBool(rec[6])
		if err != nil {
			return Export{}, fmt.Errorf("invalid success at line %d: %w", i+1, err)
		}
		if out.SessionID == "" {
			out.SessionID = rec[0]
		}
		out.Targets[rec[1]] = append(out.Targets[rec[1]], model.Sample{
			ID:        rec[2],
			Timestamp: ts,
			LatencyMs: latency,
			JitterMs:  jitter,
			Success:   success,
		})
	}

	return out, nil
}
