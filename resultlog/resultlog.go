// Package resultlog writes the calibration run's output artifacts: the
// tabular result table (spec.md §6, "Setpoint_Torr, Standard_Pressure_Torr,
// Device_<n>_Pressure_Torr") and a per-sample NDJSON debug trace. Neither
// the teacher nor any other example repo in the retrieval pack imports a
// CSV or line-protocol logging library, so both writers use the standard
// library directly — see DESIGN.md for the per-part justification.
package resultlog

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	"pressurecal/errcode"
	"pressurecal/model"
)

// ResultWriter accumulates result rows and flushes them as CSV at the end
// of a run, per spec.md §3's "appended in setpoint order, flushed at end
// of run" lifecycle.
type ResultWriter struct {
	path     string
	dutCount int
	rows     []model.ResultRow
}

// NewResultWriter prepares a writer for path with dutCount active DUT
// columns (0..4).
func NewResultWriter(path string, dutCount int) *ResultWriter {
	return &ResultWriter{path: path, dutCount: dutCount}
}

// Append records row in the order setpoints were processed.
func (w *ResultWriter) Append(row model.ResultRow) {
	w.rows = append(w.rows, row)
}

// Flush writes the accumulated rows to w.path as CSV.
func (w *ResultWriter) Flush() error {
	f, err := os.Create(w.path)
	if err != nil {
		return errcode.Wrap("resultlog.Flush", errcode.Error, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{"Setpoint_Torr", "Standard_Pressure_Torr"}
	for i := 0; i < w.dutCount; i++ {
		header = append(header, "Device_"+strconv.Itoa(i)+"_Pressure_Torr")
	}
	if err := cw.Write(header); err != nil {
		return errcode.Wrap("resultlog.Flush", errcode.Error, err)
	}

	for _, row := range w.rows {
		record := []string{
			formatFloat(row.Setpoint),
			formatFloat(row.MeanStandard),
		}
		for i := 0; i < w.dutCount; i++ {
			record = append(record, formatFloat(row.MeanDUT[i]))
		}
		if err := cw.Write(record); err != nil {
			return errcode.Wrap("resultlog.Flush", errcode.Error, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// TraceSample is one per-sample debug trace record.
type TraceSample struct {
	TimestampUnixNano int64   `json:"ts"`
	Pressure          float64 `json:"pressure"`
	InletPos          float64 `json:"inlet_pos"`
	OutletPos         float64 `json:"outlet_pos"`
}

// TraceWriter appends newline-delimited JSON trace records as the run
// progresses, rather than buffering the whole run in memory like
// ResultWriter does for the much smaller result table.
type TraceWriter struct {
	enc *json.Encoder
	f   *os.File
}

// NewTraceWriter opens (or truncates) path for streaming trace records.
func NewTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errcode.Wrap("resultlog.NewTraceWriter", errcode.Error, err)
	}
	return &TraceWriter{enc: json.NewEncoder(f), f: f}, nil
}

// Write appends one sample.
func (w *TraceWriter) Write(s TraceSample) error {
	if err := w.enc.Encode(s); err != nil {
		return errcode.Wrap("resultlog.Write", errcode.Error, err)
	}
	return nil
}

// Close flushes and releases the underlying file.
func (w *TraceWriter) Close() error {
	return w.f.Close()
}
