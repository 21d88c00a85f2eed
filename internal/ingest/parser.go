package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"hvac_savings/internal/model"
)

// Parser reads one kind of record from a tabular source.
type Parser[T any] interface {
	Parse(r io.Reader) ([]T, error)
}

// Options control how loaders interpret their input.
type Options struct {
	// ParseDates selects textual timestamps (true) or Unix epoch seconds (false).
	ParseDates bool
	// Location applies to textual timestamps without a zone. Nil means UTC.
	Location *time.Location
	// Strict fails the load on the first unparseable row instead of skipping it.
	Strict bool
}

// DefaultOptions returns options for textual timestamps in UTC.
func DefaultOptions() Options {
	return Options{ParseDates: true}
}

var errEmptyField = errors.New("empty field")

// textLayouts are tried in order; the first two carry a zone offset.
var textLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (o Options) parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyField
	}
	if !o.ParseDates {
		return parseUnixTimestamp(s)
	}

	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	for i, layout := range textLayouts {
		var ts time.Time
		var err error
		if i < 2 {
			ts, err = time.Parse(layout, s)
		} else {
			ts, err = time.ParseInLocation(layout, s, loc)
		}
		if err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseUnixTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q as unix timestamp: %w", s, err)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// row gives column-name access to one CSV record.
type row struct {
	record  []string
	idx     map[string]int
	lineNum int
}

func (r row) field(col string) (string, bool) {
	i, ok := r.idx[col]
	if !ok || i >= len(r.record) {
		return "", false
	}
	return strings.TrimSpace(r.record[i]), true
}

func (r row) str(col string) (string, error) {
	v, ok := r.field(col)
	if !ok || v == "" {
		return "", fmt.Errorf("line %d: %s: %w", r.lineNum, col, errEmptyField)
	}
	return v, nil
}

func (r row) float(col string) (float64, error) {
	v, err := r.str(col)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: parsing %s %q: %w", r.lineNum, col, v, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("line %d: %s is not finite", r.lineNum, col)
	}
	return f, nil
}

func (r row) timestamp(col string, opts Options) (time.Time, error) {
	v, _ := r.field(col)
	ts, err := opts.parseTimestamp(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("line %d: parsing %s: %w", r.lineNum, col, err)
	}
	return ts, nil
}

// readTable validates the header against schema and hands every body row to
// fn. Rows fn rejects are skipped unless opts.Strict is set.
func readTable(r io.Reader, schema model.Schema, opts Options, fn func(row) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("reading CSV header: %w", err)
	}
	idx, err := schema.Index(header)
	if err != nil {
		return err
	}

	lineNum := 1 // header was line 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}
		if isBlank(record) {
			continue
		}

		if err := fn(row{record: record, idx: idx, lineNum: lineNum}); err != nil {
			if opts.Strict {
				return err
			}
			continue
		}
	}
	return nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func loadFile[T any](path string, p Parser[T]) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	records, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1", "external":
		return true, nil
	case "false", "f", "no", "n", "0", "internal":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
