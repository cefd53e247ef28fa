package tseries

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

// Format names a supported on-disk table layout.
type Format string

const (
	FormatAuto    Format = ""
	FormatStatvar Format = "statvar"
	FormatData    Format = "data"
	FormatCSV     Format = "csv"
)

// Read loads a table from path, sniffing its format, and restricts it to w.
func Read(path string, w Window) (*Table, error) {
	return ReadFormat(path, FormatAuto, w)
}

// ReadFormat loads a table of a known format.
func ReadFormat(path string, format Format, w Window) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IO("read", path, err)
	}
	if format == FormatAuto {
		format = sniff(path, string(raw))
	}
	var t *Table
	r := strings.NewReader(string(raw))
	switch format {
	case FormatStatvar:
		t, err = ParseStatvar(r, path)
	case FormatData:
		t, err = ParseData(r, path)
	case FormatCSV:
		t, err = ParseCSV(r, path)
	default:
		return nil, fmt.Errorf("unknown table format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return t.Slice(w), nil
}

func sniff(path, content string) Format {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := strconv.Atoi(line); err == nil {
			return FormatStatvar
		}
		if strings.Contains(line, ",") {
			return FormatCSV
		}
		return FormatData
	}
	return FormatData
}

// withPath fills the path and line of a FormatError raised by New.
func withPath(err error, path string) error {
	var fe *errs.FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = path
	}
	return err
}

func parseValue(tok string) (float64, error) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, err
	}
	if v == Missing {
		return math.NaN(), nil
	}
	return v, nil
}

// parseRow reads "y m d h mi s v1 ... vn" starting at fields[0].
func parseRow(fields []string, n int) (time.Time, []float64, error) {
	if len(fields) != 6+n {
		return time.Time{}, nil, fmt.Errorf("expected %d fields, got %d", 6+n, len(fields))
	}
	var parts [6]int
	for i := range parts {
		v, err := strconv.Atoi(fields[i])
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("bad date field %q", fields[i])
		}
		parts[i] = v
	}
	if parts[1] < 1 || parts[1] > 12 || parts[2] < 1 || parts[2] > 31 {
		return time.Time{}, nil, fmt.Errorf("invalid date %d-%d-%d", parts[0], parts[1], parts[2])
	}
	ts := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], 0, time.UTC)
	// time.Date normalizes Feb 31 into March
	if ts.Month() != time.Month(parts[1]) || ts.Day() != parts[2] {
		return time.Time{}, nil, fmt.Errorf("invalid date %d-%d-%d", parts[0], parts[1], parts[2])
	}
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := parseValue(fields[6+i])
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("bad value %q", fields[6+i])
		}
		vals[i] = v
	}
	return ts, vals, nil
}

type rows struct {
	times []time.Time
	data  [][]float64
}

func (r *rows) add(ts time.Time, vals []float64) {
	r.times = append(r.times, ts)
	for i, v := range vals {
		r.data[i] = append(r.data[i], v)
	}
}

// ParseStatvar reads the simulator's statvar output: a count line, one
// "<name> <index>" line per variable, then rows of
// "<step> y m d h mi s v1 ... vn". Columns are named <name>_<index>.
func ParseStatvar(rd io.Reader, source string) (*Table, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	next := func() (string, bool) {
		for sc.Scan() {
			line++
			if s := strings.TrimSpace(sc.Text()); s != "" {
				return s, true
			}
		}
		return "", false
	}
	fail := func(format string, args ...any) error {
		return &errs.FormatError{Path: source, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	head, ok := next()
	if !ok {
		return nil, fail("empty statvar file")
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 1 {
		return nil, fail("expected variable count, got %q", head)
	}
	cols := make([]Column, n)
	for i := range cols {
		s, ok := next()
		if !ok {
			return nil, fail("expected %d variable names, got %d", n, i)
		}
		f := strings.Fields(s)
		if len(f) != 2 {
			return nil, fail("expected \"<name> <index>\", got %q", s)
		}
		cols[i] = Column{Name: f[0] + "_" + f[1]}
	}
	rs := rows{data: make([][]float64, n)}
	for {
		s, ok := next()
		if !ok {
			break
		}
		f := strings.Fields(s)
		if len(f) < 1 {
			continue
		}
		ts, vals, err := parseRow(f[1:], n)
		if err != nil {
			return nil, fail("%v", err)
		}
		rs.add(ts, vals)
	}
	if err := sc.Err(); err != nil {
		return nil, errs.IO("read", source, err)
	}
	t, err := New(rs.times, cols, rs.data)
	return t, withPath(err, source)
}

// ParseData reads a PRMS data file: free-text header lines, "<var> <count>"
// declarations, a "####" separator and rows of "y m d h mi s v1 ... vn".
// Columns are named <var>_<i> counting from 1.
func ParseData(rd io.Reader, source string) (*Table, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	fail := func(format string, args ...any) error {
		return &errs.FormatError{Path: source, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	var cols []Column
	inHeader := true
	var rs rows
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		if inHeader {
			if strings.HasPrefix(s, "####") {
				if len(cols) == 0 {
					return nil, fail("no variables declared before ####")
				}
				inHeader = false
				rs.data = make([][]float64, len(cols))
				continue
			}
			f := strings.Fields(s)
			if len(f) == 2 && !strings.HasPrefix(f[0], "//") {
				if count, err := strconv.Atoi(f[1]); err == nil && count > 0 {
					for i := 1; i <= count; i++ {
						cols = append(cols, Column{Name: fmt.Sprintf("%s_%d", f[0], i)})
					}
				}
			}
			continue
		}
		ts, vals, err := parseRow(strings.Fields(s), len(cols))
		if err != nil {
			return nil, fail("%v", err)
		}
		rs.add(ts, vals)
	}
	if err := sc.Err(); err != nil {
		return nil, errs.IO("read", source, err)
	}
	if inHeader {
		return nil, fail("missing #### separator")
	}
	t, err := New(rs.times, cols, rs.data)
	return t, withPath(err, source)
}

var dateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"1/2/2006",
	"2006/01/02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// ParseCSV reads a delimited table whose first column is a date and whose
// header row names the remaining columns. Empty cells are missing.
func ParseCSV(rd io.Reader, source string) (*Table, error) {
	cr := csv.NewReader(rd)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	header, err := cr.Read()
	if err != nil {
		return nil, &errs.FormatError{Path: source, Line: 1, Msg: "missing header row"}
	}
	if len(header) < 2 {
		return nil, &errs.FormatError{Path: source, Line: 1, Msg: "expected a date column and at least one value column"}
	}
	cols := make([]Column, len(header)-1)
	for i, h := range header[1:] {
		cols[i] = Column{Name: strings.TrimSpace(h)}
	}
	rs := rows{data: make([][]float64, len(cols))}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &errs.FormatError{Path: source, Line: line, Msg: err.Error()}
		}
		ts, err := parseDate(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, &errs.FormatError{Path: source, Line: line, Msg: err.Error()}
		}
		vals := make([]float64, len(cols))
		for i, cell := range rec[1:] {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				vals[i] = math.NaN()
				continue
			}
			if vals[i], err = parseValue(cell); err != nil {
				return nil, &errs.FormatError{Path: source, Line: line, Msg: fmt.Sprintf("bad value %q", cell)}
			}
		}
		rs.add(ts, vals)
	}
	t, err := New(rs.times, cols, rs.data)
	return t, withPath(err, source)
}

// WriteStatvar writes t in the statvar layout. Column names must end in
// _<index>; others are written with index 1.
func (t *Table) WriteStatvar(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(t.columns))
	for _, c := range t.columns {
		name, idx := c.Name, "1"
		if k := strings.LastIndexByte(c.Name, '_'); k > 0 {
			if _, err := strconv.Atoi(c.Name[k+1:]); err == nil {
				name, idx = c.Name[:k], c.Name[k+1:]
			}
		}
		fmt.Fprintf(bw, "%s %s\n", name, idx)
	}
	for r, ts := range t.times {
		fmt.Fprintf(bw, "%d %d %d %d %d %d %d", r+1, ts.Year(), int(ts.Month()), ts.Day(), ts.Hour(), ts.Minute(), ts.Second())
		for _, col := range t.data {
			v := col[r]
			if math.IsNaN(v) {
				v = Missing
			}
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
