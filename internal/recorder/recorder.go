// Package recorder accumulates per-repetition force/target time series and
// persists them as CSV, one file per repetition.
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Row is one logged observation. Target is absent outside feedback runs.
type Row struct {
	Elapsed   time.Duration
	Force     float64
	Target    float64
	HasTarget bool
}

// Record is the ordered, append-only series for one repetition. It has a
// single writer (the repetition's logger goroutine); readers consume it
// only after that goroutine has been joined.
type Record struct {
	start time.Time
	rows  []Row
}

func NewRecord(start time.Time) *Record {
	return &Record{start: start}
}

func (r *Record) Start() time.Time { return r.start }

func (r *Record) Rows() []Row { return r.rows }

// Append adds one observation stamped with the elapsed time since start.
func (r *Record) Append(force, target float64, hasTarget bool) {
	r.rows = append(r.rows, Row{
		Elapsed:   time.Since(r.start),
		Force:     force,
		Target:    target,
		HasTarget: hasTarget,
	})
}

// WriteCSV writes the record to
// dir/autopusher_feedback_seq_rep<N>_<timestamp>.csv with the header
// "Time (s),Force (lb),Target (lb)". The target cell is empty for rows
// without an active setpoint. Returns the written path.
func WriteCSV(dir string, rep int, rec *Record) (string, error) {
	name := fmt.Sprintf("autopusher_feedback_seq_rep%d_%s.csv",
		rep, rec.Start().Format("2006_01_02_15_04_05"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("recorder: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Time (s)", "Force (lb)", "Target (lb)"}); err != nil {
		return "", fmt.Errorf("recorder: write header: %w", err)
	}
	for _, row := range rec.Rows() {
		target := ""
		if row.HasTarget {
			target = strconv.FormatFloat(row.Target, 'f', -1, 64)
		}
		err := w.Write([]string{
			strconv.FormatFloat(row.Elapsed.Seconds(), 'f', 6, 64),
			strconv.FormatFloat(row.Force, 'f', 6, 64),
			target,
		})
		if err != nil {
			return "", fmt.Errorf("recorder: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("recorder: flush %s: %w", path, err)
	}
	return path, nil
}
