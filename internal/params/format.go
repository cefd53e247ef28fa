package params

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/GoSim-25-26J-441/prms-calibration/pkg/errs"
)

const (
	blockMarker     = "####"
	dimensionsTitle = "** Dimensions **"
	parametersTitle = "** Parameters **"
)

// Read parses the PRMS parameter file at path.
func Read(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.IO("open", path, err)
	}
	defer f.Close()
	return Parse(f, path)
}

// lineReader walks trimmed lines and remembers the current line number for
// error messages.
type lineReader struct {
	source string
	lines  []string
	pos    int
}

func (r *lineReader) eof() bool { return r.pos >= len(r.lines) }

func (r *lineReader) peek() string { return strings.TrimSpace(r.lines[r.pos]) }

func (r *lineReader) next() (string, error) {
	if r.eof() {
		return "", r.errorf("unexpected end of file")
	}
	line := strings.TrimSpace(r.lines[r.pos])
	r.pos++
	return line, nil
}

func (r *lineReader) nextInt(what string) (int, error) {
	line, err := r.next()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.Fields(line + " x")[0])
	if err != nil || n < 0 {
		return 0, r.errorf("expected %s, got %q", what, line)
	}
	return n, nil
}

func (r *lineReader) errorf(format string, args ...any) error {
	return &errs.FormatError{Path: r.source, Line: r.pos, Msg: fmt.Sprintf(format, args...)}
}

// Parse reads a parameter file from r. source names the input in errors and
// becomes the set's base file.
func Parse(rd io.Reader, source string) (*Set, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errs.IO("read", source, err)
	}
	r := &lineReader{source: source, lines: lines}

	s := &Set{baseFile: source, index: make(map[string]int)}
	for !r.eof() && r.peek() != dimensionsTitle {
		s.header = append(s.header, r.lines[r.pos])
		r.pos++
	}
	if r.eof() {
		return nil, &errs.FormatError{Path: source, Msg: "missing " + dimensionsTitle + " section"}
	}
	r.pos++

	for !r.eof() && r.peek() != parametersTitle {
		line, _ := r.next()
		if line == "" {
			continue
		}
		if line != blockMarker {
			return nil, r.errorf("expected %s, got %q", blockMarker, line)
		}
		name, err := r.next()
		if err != nil {
			return nil, err
		}
		size, err := r.nextInt("dimension size")
		if err != nil {
			return nil, err
		}
		if _, dup := s.Dimension(name); dup {
			return nil, r.errorf("dimension %s declared twice", name)
		}
		s.dims = append(s.dims, Dimension{Name: name, Size: size})
	}
	if r.eof() {
		return nil, &errs.FormatError{Path: source, Msg: "missing " + parametersTitle + " section"}
	}
	r.pos++

	for !r.eof() {
		line, _ := r.next()
		if line == "" {
			continue
		}
		if line != blockMarker {
			return nil, r.errorf("expected %s, got %q", blockMarker, line)
		}
		p, err := parseBlock(r, s)
		if err != nil {
			return nil, err
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, r.errorf("parameter %s declared twice", p.Name)
		}
		s.index[p.Name] = len(s.params)
		s.params = append(s.params, p)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseBlock(r *lineReader, s *Set) (*Param, error) {
	head, err := r.next()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(head)
	if len(fields) == 0 {
		return nil, r.errorf("missing parameter name")
	}
	p := &Param{Name: fields[0]}
	if len(fields) > 1 {
		p.Width = fields[1]
	}
	ndims, err := r.nextInt("dimension count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < ndims; i++ {
		name, err := r.next()
		if err != nil {
			return nil, err
		}
		size, ok := s.Dimension(name)
		if !ok {
			return nil, r.errorf("parameter %s uses undeclared dimension %s", p.Name, name)
		}
		p.Dims = append(p.Dims, Dimension{Name: name, Size: size})
	}
	n, err := r.nextInt("value count")
	if err != nil {
		return nil, err
	}
	if n != p.Len() {
		return nil, &errs.DimensionMismatchError{Param: p.Name, Expected: p.Len(), Got: n}
	}
	code, err := r.nextInt("type code")
	if err != nil {
		return nil, err
	}
	p.Type = ValueType(code)
	if !p.Type.valid() {
		return nil, r.errorf("parameter %s has unknown type code %d", p.Name, code)
	}

	p.raw = make([]string, 0, n)
	for len(p.raw) < n {
		if r.eof() || r.peek() == blockMarker {
			return nil, &errs.DimensionMismatchError{Param: p.Name, Expected: n, Got: len(p.raw), Detail: "value list ended early"}
		}
		line, _ := r.next()
		// Some writers put several values on a line.
		p.raw = append(p.raw, strings.Fields(line)...)
	}
	if len(p.raw) != n {
		return nil, &errs.DimensionMismatchError{Param: p.Name, Expected: n, Got: len(p.raw)}
	}
	if p.Type == TypeString {
		p.Strings = append([]string(nil), p.raw...)
		return p, nil
	}
	p.Values = make([]float64, n)
	for i, tok := range p.raw {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, r.errorf("parameter %s: bad value %q", p.Name, tok)
		}
		p.Values[i] = v
	}
	return p, nil
}

// Write serialises the set to path, creating or truncating the file.
func (s *Set) Write(path string) error {
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errs.IO("write", path, err)
	}
	return nil
}

// WriteTo writes the native format. Header lines and block order are kept as
// read; parameters that were never modified keep their original value text.
func (s *Set) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	put := func(line string) {
		k, _ := bw.WriteString(line)
		bw.WriteByte('\n')
		n += int64(k) + 1
	}

	for _, h := range s.header {
		put(h)
	}
	put(dimensionsTitle)
	for _, d := range s.dims {
		put(blockMarker)
		put(d.Name)
		put(strconv.Itoa(d.Size))
	}
	put(parametersTitle)
	for _, p := range s.params {
		put(blockMarker)
		if p.Width != "" {
			put(p.Name + " " + p.Width)
		} else {
			put(p.Name)
		}
		put(strconv.Itoa(len(p.Dims)))
		for _, d := range p.Dims {
			put(d.Name)
		}
		put(strconv.Itoa(p.Len()))
		put(strconv.Itoa(int(p.Type)))
		switch {
		case p.raw != nil:
			for _, v := range p.raw {
				put(v)
			}
		case p.Type == TypeString:
			for _, v := range p.Strings {
				put(v)
			}
		default:
			for _, v := range p.Values {
				put(formatValue(p.Type, v))
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return n, errs.IO("write", s.baseFile, err)
	}
	return n, nil
}

func formatValue(t ValueType, v float64) string {
	if t == TypeInt {
		return strconv.FormatInt(int64(math.Round(v)), 10)
	}
	if t == TypeFloat {
		return strconv.FormatFloat(v, 'f', -1, 32)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
