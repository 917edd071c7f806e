package metrics

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"netsentinel/internal/model"
)

var csvHeader = []string{
	"session_id",
	"target_id",
	"id",
	"timestamp",
	"latency_ms",
	"jitter_ms",
	"success",
}

// WriteCSV writes a session's samples with a fixed column order. Targets are
// written in id order, samples in recorded order.
func WriteCSV(w io.Writer, session model.Session) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	ids := make([]string, 0, len(session.Targets))
	for id := range session.Targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, tid := range ids {
		for _, m := range session.Targets[tid] {
			record := []string{
				session.ID,
				tid,
				m.ID,
				m.Timestamp.UTC().Format(time.RFC3339Nano),
				strconv.Itoa(m.LatencyMs),
				strconv.Itoa(m.JitterMs),
				strconv.FormatBool(m.Success),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
