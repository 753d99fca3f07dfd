package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nutridex/nutridex/api"
	"github.com/nutridex/nutridex/internal/metrics"
)

// SchemaError reports a header that does not match the declared column
// set. It is fatal for the whole file, unlike a RowError.
type SchemaError struct {
	Table   string
	Missing []string
	Extra   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %s: header mismatch (missing %v, extra %v)",
		e.Table, e.Missing, e.Extra)
}

// RowError reports a single malformed row. The caller quarantines the row
// and continues; it never aborts the run by itself. Line is the physical
// line where the row starts, counting lines inside quoted fields.
type RowError struct {
	Table  string
	Line   int
	Column string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("table %s line %d: column %s: %s", e.Table, e.Line, e.Column, e.Reason)
}

// Quarantine reasons attached to RowError and aggregated in the run report.
const (
	ReasonBadNumeric   = "bad_numeric"
	ReasonBadDate      = "bad_date"
	ReasonMissingValue = "missing_value"
	ReasonFieldCount   = "field_count"
	ReasonUnknownType  = "unknown_data_type"
	ReasonDanglingFood = "dangling_food_ref"
	ReasonDuplicateKey = "duplicate_key"
)

// Counts are the per-table side-effect counters the Normalizer consumes.
type Counts struct {
	Read     uint64
	Rejected uint64
}

// field is one parsed cell. Numeric/date cells with empty source text have
// valid=false; they are "no value", never zero.
type field struct {
	s     string
	i     int64
	f     float64
	valid bool
}

// Row is one typed record. Accessors take the schema column index.
type Row struct {
	Line   int
	fields []field
}

// String returns the column's text, empty when the cell was empty.
func (r Row) String(col int) string { return r.fields[col].s }

// Int returns the column as a three-state integer.
func (r Row) Int(col int) api.OptInt {
	f := r.fields[col]
	return api.OptInt{Value: f.i, Valid: f.valid}
}

// Float returns the column as a three-state float.
func (r Row) Float(col int) api.OptFloat {
	f := r.fields[col]
	return api.OptFloat{Value: f.f, Valid: f.valid}
}

// Reader streams one source table as typed rows. It wraps a csv reader,
// so memory stays bounded regardless of table size.
type Reader struct {
	Schema Schema
	Counts Counts

	// Metrics, when set, mirrors Counts into Prometheus counters.
	Metrics *metrics.Metrics

	cr   *csv.Reader
	perm []int // schema column index -> file field index
	line int
}

// NewReader validates the header of r against the schema and returns a
// reader positioned at the first data row. Column order in the file is
// irrelevant; the set must match exactly.
func NewReader(schema Schema, r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &SchemaError{Table: schema.Table, Missing: columnNames(schema)}
		}
		return nil, fmt.Errorf("read header for %s: %w", schema.Table, err)
	}

	perm := make([]int, len(schema.Columns))
	for i := range perm {
		perm[i] = -1
	}
	var extra []string
	for pos, name := range header {
		name = strings.TrimSpace(name)
		if i, ok := schema.column(name); ok && perm[i] == -1 {
			perm[i] = pos
		} else {
			extra = append(extra, name)
		}
	}
	var missing []string
	for i, c := range schema.Columns {
		if perm[i] == -1 {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return nil, &SchemaError{Table: schema.Table, Missing: missing, Extra: extra}
	}

	cr.FieldsPerRecord = len(header)
	return &Reader{Schema: schema, cr: cr, perm: perm}, nil
}

// Next returns the next typed row. It returns io.EOF at end of input, a
// *RowError for a malformed row (the stream stays usable), and any other
// error for unreadable input.
func (rd *Reader) Next() (Row, error) {
	rec, err := rd.cr.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	}
	if err != nil && !errors.Is(err, csv.ErrFieldCount) {
		return Row{}, fmt.Errorf("read %s: %w", rd.Schema.Table, err)
	}
	// FieldPos, not a record counter: quoted fields may contain newlines,
	// so the physical line can run ahead of the record number.
	rd.line, _ = rd.cr.FieldPos(0)
	rd.countRead()
	if err != nil {
		return Row{}, rd.reject("", ReasonFieldCount)
	}

	row := Row{Line: rd.line, fields: make([]field, len(rd.Schema.Columns))}
	for i, col := range rd.Schema.Columns {
		raw := strings.TrimSpace(rec[rd.perm[i]])
		if raw == "" {
			if col.Required {
				return Row{}, rd.reject(col.Name, ReasonMissingValue)
			}
			continue // absent, not zero
		}
		// Clone: the csv reader reuses its record buffer across Next calls.
		f := field{s: strings.Clone(raw), valid: true}
		switch col.Type {
		case TypeInt:
			// Some provider exports write integral columns as "123.0".
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				fv, ferr := strconv.ParseFloat(raw, 64)
				if ferr != nil || fv != float64(int64(fv)) {
					return Row{}, rd.reject(col.Name, ReasonBadNumeric)
				}
				v = int64(fv)
			}
			f.i = v
		case TypeFloat:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return Row{}, rd.reject(col.Name, ReasonBadNumeric)
			}
			f.f = v
		case TypeDate:
			if _, err := time.Parse("2006-01-02", raw); err != nil {
				return Row{}, rd.reject(col.Name, ReasonBadDate)
			}
		}
		row.fields[i] = f
	}
	return row, nil
}

func (rd *Reader) countRead() {
	rd.Counts.Read++
	if rd.Metrics != nil {
		rd.Metrics.RowsRead.WithLabelValues(rd.Schema.Table).Inc()
	}
}

func (rd *Reader) reject(column, reason string) *RowError {
	rd.Counts.Rejected++
	if rd.Metrics != nil {
		rd.Metrics.RowsQuarantined.WithLabelValues(rd.Schema.Table, reason).Inc()
	}
	return &RowError{Table: rd.Schema.Table, Line: rd.line, Column: column, Reason: reason}
}

func columnNames(s Schema) []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
