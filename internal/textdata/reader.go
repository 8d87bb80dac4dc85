package textdata

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// ErrMalformed is wrapped by every *ParseError.
var ErrMalformed = errors.NewStd("malformed descriptor file")

// maxLineLength bounds a single line; event tables can be very wide.
const maxLineLength = 16 << 20

// ParseError reports a problem at a specific line of the input.
type ParseError struct {
	Line int
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Msg, e.Err)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

// ErrorCategory implements errors.CategorizedError.
func (e *ParseError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryFileParsing
}

func parseErr(line int, cause error, format string, args ...any) error {
	return errors.New(&ParseError{Line: line, Msg: fmt.Sprintf(format, args...), Err: cause}).
		Component("textdata").
		Category(errors.CategoryFileParsing).
		FileContext("", line).
		Build()
}

// Reader streams records from a descriptor file.
type Reader struct {
	scanner *bufio.Scanner
	schema  *Schema
	line    int
	// element kinds in header order
	kinds []Kind
}

// NewReader consumes the three header lines of r.
func NewReader(r io.Reader) (*Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	rd := &Reader{scanner: scanner}

	description, ok := rd.nextLine()
	if !ok {
		return nil, rd.headerErr("description")
	}
	attrLine, ok := rd.nextLine()
	if !ok {
		return nil, rd.headerErr("attribute")
	}
	attrLineNo := rd.line
	formatLine, ok := rd.nextLine()
	if !ok {
		return nil, rd.headerErr("format")
	}

	tokens := strings.Fields(attrLine)
	if len(tokens) == 0 {
		return nil, parseErr(attrLineNo, nil, "no attributes declared")
	}
	formats := strings.Fields(formatLine)

	attrs := make([]Attribute, 0, len(tokens))
	total := 0
	for _, tok := range tokens {
		name, dims, err := ParseAttribute(tok)
		if err != nil {
			return nil, parseErr(attrLineNo, err, "bad attribute")
		}
		n, err := ElementCount(dims)
		if err != nil {
			return nil, parseErr(attrLineNo, err, "bad attribute")
		}
		if n > maxElements-total {
			return nil, parseErr(attrLineNo, nil, "attributes declare more than %d elements", maxElements)
		}
		a := Attribute{Name: name, Dims: dims, Elements: n}
		total += n
		attrs = append(attrs, a)
	}
	if len(formats) != total {
		return nil, parseErr(rd.line, nil, "%d format strings for %d elements", len(formats), total)
	}

	rd.kinds = make([]Kind, total)
	for i, f := range formats {
		k, ok := kindForFormat(f)
		if !ok {
			return nil, parseErr(rd.line, nil, "unknown format %q", f)
		}
		rd.kinds[i] = k
	}

	pos := 0
	for i := range attrs {
		kind := rd.kinds[pos]
		for j := pos; j < pos+attrs[i].Elements; j++ {
			if rd.kinds[j].Numeric() != kind.Numeric() {
				return nil, parseErr(rd.line, nil, "attribute %q mixes %s and %s elements",
					attrs[i].Name, kind, rd.kinds[j])
			}
			// an int/float mix is stored as float
			if rd.kinds[j] == KindFloat {
				kind = KindFloat
			}
		}
		attrs[i].Kind = kind
		pos += attrs[i].Elements
	}

	schema, err := NewSchema(strings.TrimSpace(description), attrs)
	if err != nil {
		return nil, err
	}
	rd.schema = schema
	return rd, nil
}

func (r *Reader) headerErr(which string) error {
	if err := r.scanner.Err(); err != nil {
		return errors.New(fmt.Errorf("reading %s line: %w", which, err)).
			Component("textdata").
			Category(errors.CategoryFileIO).
			Build()
	}
	return parseErr(r.line+1, nil, "missing %s line", which)
}

func (r *Reader) nextLine() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	r.line++
	return r.scanner.Text(), true
}

// Schema returns the parsed header.
func (r *Reader) Schema() *Schema { return r.schema }

// Read returns the next record, skipping blank lines. It returns io.EOF
// after the last record.
func (r *Reader) Read() (Record, error) {
	for {
		text, ok := r.nextLine()
		if !ok {
			if err := r.scanner.Err(); err != nil {
				return Record{}, errors.New(fmt.Errorf("reading line %d: %w", r.line+1, err)).
					Component("textdata").
					Category(errors.CategoryFileIO).
					Build()
			}
			return Record{}, io.EOF
		}
		tokens := strings.Fields(text)
		if len(tokens) == 0 {
			continue
		}
		return r.parseRecord(tokens)
	}
}

func (r *Reader) parseRecord(tokens []string) (Record, error) {
	if len(tokens) != len(r.kinds) {
		return Record{}, parseErr(r.line, nil, "%d tokens, expected %d", len(tokens), len(r.kinds))
	}
	rec := Record{
		Line:    r.line,
		Numbers: make([]float64, 0, r.schema.NumericWidth),
	}
	if r.schema.StringWidth > 0 {
		rec.Strings = make([]string, 0, r.schema.StringWidth)
	}
	for i, tok := range tokens {
		switch r.kinds[i] {
		case KindInt:
			v, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				// integer columns occasionally carry a float rendering
				f, ferr := strconv.ParseFloat(tok, 64)
				if ferr != nil {
					return Record{}, parseErr(r.line, err, "element %d", i)
				}
				rec.Numbers = append(rec.Numbers, f)
				continue
			}
			rec.Numbers = append(rec.Numbers, float64(v))
		case KindFloat:
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return Record{}, parseErr(r.line, err, "element %d", i)
			}
			rec.Numbers = append(rec.Numbers, v)
		default:
			rec.Strings = append(rec.Strings, tok)
		}
	}
	return rec, nil
}

// ForEach calls fn for every remaining record and returns how many were read.
// It stops at the first error from parsing or from fn.
func (r *Reader) ForEach(fn func(Record) error) (int, error) {
	n := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := fn(rec); err != nil {
			return n, err
		}
		n++
	}
}
