package results

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/nvr-ai/go-roi/images"
	"github.com/nvr-ai/go-roi/video"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CSVHeader is the header row of the CSV export.
var CSVHeader = []string{"frame", "intensity"}

// LegacyCSVHeader is the three-column layout of the field-sweep scripts,
// where the frame number doubles as the magnetic field step.
var LegacyCSVHeader = []string{"Frame_Number", "Magnetic_Field_Step", "Mean_ROI_Intensity"}

// Row is one exported (frame_index, value) pair.
type Row = Sample

// ExportCSV returns the rows of a frozen set in frame order.
func (r *ResultSet) ExportCSV() ([]Row, error) {
	samples, err := r.frozenSamples("export")
	if err != nil {
		return nil, err
	}
	return append([]Row(nil), samples...), nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes the frozen series as "frame,intensity" CSV. Values use the
// shortest representation that parses back to the identical float64.
func (r *ResultSet) WriteCSV(w io.Writer) error {
	rows, err := r.ExportCSV()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, row := range rows {
		if err := cw.Write([]string{strconv.Itoa(row.FrameIndex), formatValue(row.Value)}); err != nil {
			return errors.Wrapf(err, "write csv row for frame %d", row.FrameIndex)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// WriteLegacyCSV writes the frozen series in LegacyCSVHeader layout.
func (r *ResultSet) WriteLegacyCSV(w io.Writer) error {
	rows, err := r.ExportCSV()
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(LegacyCSVHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, row := range rows {
		idx := strconv.Itoa(row.FrameIndex)
		if err := cw.Write([]string{idx, idx, formatValue(row.Value)}); err != nil {
			return errors.Wrapf(err, "write csv row for frame %d", row.FrameIndex)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// ParseCSV reads rows written by WriteCSV (or WriteLegacyCSV, whose first and
// last columns are used).
func ParseCSV(rd io.Reader) ([]Row, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	valueCol := 1
	switch {
	case equalFold(header, CSVHeader):
	case equalFold(header, LegacyCSVHeader):
		valueCol = 2
	default:
		return nil, errors.Errorf("unexpected csv header %v", header)
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read csv line %d", line)
		}
		if len(rec) != len(header) {
			return nil, errors.Errorf("csv line %d: %d fields, want %d", line, len(rec), len(header))
		}
		idx, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, errors.Wrapf(err, "csv line %d: frame", line)
		}
		v, err := strconv.ParseFloat(rec[valueCol], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "csv line %d: intensity", line)
		}
		rows = append(rows, Row{FrameIndex: idx, Value: v})
	}
	return rows, nil
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(strings.TrimSpace(a[i]), b[i]) {
			return false
		}
	}
	return true
}

// Summary is the machine-readable report of a run.
type Summary struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Status     string         `json:"status" yaml:"status"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	ROI        images.ROI     `json:"roi" yaml:"roi"`
	Video      video.Metadata `json:"video" yaml:"video"`
	Statistics *Statistics    `json:"statistics,omitempty" yaml:"statistics,omitempty"`
	Skipped    []Skip         `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Summary builds the report of the set. Statistics are omitted until the set
// is frozen; NaN statistics are reported as absent values by the encoders.
func (r *ResultSet) Summary() Summary {
	s := Summary{
		RunID:   r.id,
		Status:  r.Status().String(),
		ROI:     r.roi,
		Video:   r.meta,
		Skipped: r.Skips(),
	}
	if err := r.Err(); err != nil {
		s.Error = err.Error()
	}
	if st, err := r.Statistics(); err == nil {
		s.Statistics = &st
	}
	return s
}

// Format selects a summary encoding.
type Format string

const (
	// FormatYAML encodes with gopkg.in/yaml.v3.
	FormatYAML Format = "yaml"
	// FormatJSON encodes with encoding/json.
	FormatJSON Format = "json"
	// FormatCBOR encodes with github.com/fxamacker/cbor/v2.
	FormatCBOR Format = "cbor"
)

// FormatFromPath picks the summary format from the file extension:
// .json and .cbor select those encodings, anything else YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".cbor":
		return FormatCBOR
	default:
		return FormatYAML
	}
}

// summaryDoc mirrors Summary with NaN-safe statistics, since JSON has no NaN.
type summaryDoc struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Status     string         `json:"status" yaml:"status"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	ROI        images.ROI     `json:"roi" yaml:"roi"`
	Video      video.Metadata `json:"video" yaml:"video"`
	Statistics map[string]any `json:"statistics,omitempty" yaml:"statistics,omitempty"`
	Skipped    []Skip         `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// WriteSummary encodes Summary in the requested format.
func (r *ResultSet) WriteSummary(w io.Writer, format Format) error {
	s := r.Summary()
	doc := summaryDoc{RunID: s.RunID, Status: s.Status, Error: s.Error, ROI: s.ROI, Video: s.Video, Skipped: s.Skipped}
	if st := s.Statistics; st != nil {
		doc.Statistics = map[string]any{
			"count":                  st.Count,
			"min":                    finite(st.Min),
			"max":                    finite(st.Max),
			"mean":                   finite(st.Mean),
			"contrast_ratio":         finite(st.ContrastRatio),
			"relative_swing_percent": finite(st.RelativeSwingPercent),
		}
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(doc), "encode json summary")
	case FormatCBOR:
		return errors.Wrap(cbor.NewEncoder(w).Encode(doc), "encode cbor summary")
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return errors.Wrap(err, "encode yaml summary")
		}
		return errors.Wrap(enc.Close(), "encode yaml summary")
	default:
		return errors.Errorf("unknown summary format %q", format)
	}
}

// ReadSummary decodes a summary written by WriteSummary. Absent statistics
// decode as NaN.
func ReadSummary(rd io.Reader, format Format) (Summary, error) {
	var doc summaryDoc
	var err error
	switch format {
	case FormatJSON:
		err = json.NewDecoder(rd).Decode(&doc)
	case FormatCBOR:
		err = cbor.NewDecoder(rd).Decode(&doc)
	case FormatYAML, "":
		err = yaml.NewDecoder(rd).Decode(&doc)
	default:
		return Summary{}, errors.Errorf("unknown summary format %q", format)
	}
	if err != nil {
		return Summary{}, errors.Wrap(err, "decode summary")
	}

	s := Summary{RunID: doc.RunID, Status: doc.Status, Error: doc.Error, ROI: doc.ROI, Video: doc.Video, Skipped: doc.Skipped}
	if doc.Statistics != nil {
		num := func(key string) float64 {
			switch v := doc.Statistics[key].(type) {
			case float64:
				return v
			case int:
				return float64(v)
			case uint64:
				return float64(v)
			case int64:
				return float64(v)
			default:
				return math.NaN()
			}
		}
		s.Statistics = &Statistics{
			Count:                int(num("count")),
			Min:                  num("min"),
			Max:                  num("max"),
			Mean:                 num("mean"),
			ContrastRatio:        num("contrast_ratio"),
			RelativeSwingPercent: num("relative_swing_percent"),
		}
	}
	return s, nil
}
