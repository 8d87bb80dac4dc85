// Package textdata reads the fixed-layout descriptor text files that hold
// merged bubble-chamber event tables.
//
// A file starts with three header lines: a free-text description, the
// attribute list (name or name(d1,d2,...)), and one printf-style format per
// element whose final letter gives its type. Every following line is one
// record with one whitespace-separated token per element.
package textdata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bubblelab/bubblenet/internal/errors"
)

// Kind is the value type of an attribute.
type Kind int

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "string":
		return KindString, nil
	}
	return 0, fmt.Errorf("unknown attribute kind %q", s)
}

// Numeric reports whether values of this kind are stored in Record.Numbers.
func (k Kind) Numeric() bool { return k == KindInt || k == KindFloat }

// kindForFormat maps a format string such as "%10.4e" to a Kind by its last letter.
func kindForFormat(format string) (Kind, bool) {
	if format == "" {
		return 0, false
	}
	switch format[len(format)-1] {
	case 'd':
		return KindInt, true
	case 'e', 'f':
		return KindFloat, true
	case 's':
		return KindString, true
	}
	return 0, false
}

// Attribute describes one named column group.
type Attribute struct {
	Name     string
	Dims     []int
	Elements int
	Kind     Kind
	// Offset of the first element in Record.Numbers or Record.Strings.
	Offset int
}

// Shape renders the attribute the way the header declares it.
func (a Attribute) Shape() string {
	if len(a.Dims) == 0 {
		return a.Name
	}
	parts := make([]string, len(a.Dims))
	for i, d := range a.Dims {
		parts[i] = strconv.Itoa(d)
	}
	return a.Name + "(" + strings.Join(parts, ",") + ")"
}

// ParseAttribute parses a header token such as "X" or "piezo_t0(3,3)".
func ParseAttribute(token string) (name string, dims []int, err error) {
	open := strings.IndexByte(token, '(')
	if open < 0 {
		if token == "" || strings.ContainsAny(token, ",)") {
			return "", nil, fmt.Errorf("malformed attribute %q", token)
		}
		return token, nil, nil
	}
	if open == 0 || !strings.HasSuffix(token, ")") {
		return "", nil, fmt.Errorf("malformed attribute %q", token)
	}
	name = token[:open]
	for part := range strings.SplitSeq(token[open+1:len(token)-1], ",") {
		d, convErr := strconv.Atoi(strings.TrimSpace(part))
		if convErr != nil || d <= 0 {
			return "", nil, fmt.Errorf("malformed dimension %q in attribute %q", part, token)
		}
		dims = append(dims, d)
	}
	if _, err := ElementCount(dims); err != nil {
		return "", nil, fmt.Errorf("attribute %q: %w", token, err)
	}
	return name, dims, nil
}

// maxElements bounds the elements of one row. Every element needs its own
// format token on the header line, so a wider row cannot be declared.
const maxElements = maxLineLength / 2

// ElementCount returns the product of dims, rejecting non-positive
// dimensions and products above the widest declarable row.
func ElementCount(dims []int) (int, error) {
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("dimension %d is not positive", d)
		}
		if d > maxElements/n {
			return 0, fmt.Errorf("dimensions %v exceed %d elements", dims, maxElements)
		}
		n *= d
	}
	return n, nil
}

// Schema is the parsed header of a descriptor file.
type Schema struct {
	Description  string
	Attributes   []Attribute
	NumericWidth int
	StringWidth  int

	byName map[string]int
}

// NewSchema assigns offsets to attrs and indexes them by name. Elements is
// derived from Dims when zero.
func NewSchema(description string, attrs []Attribute) (*Schema, error) {
	s := &Schema{
		Description: description,
		Attributes:  make([]Attribute, len(attrs)),
		byName:      make(map[string]int, len(attrs)),
	}
	for i, a := range attrs {
		if _, dup := s.byName[a.Name]; dup {
			return nil, errors.Newf("duplicate attribute %q", a.Name).
				Component("textdata").
				Category(errors.CategoryValidation).
				Build()
		}
		if a.Elements == 0 {
			n, err := ElementCount(a.Dims)
			if err != nil {
				return nil, errors.New(err).
					Component("textdata").
					Category(errors.CategoryValidation).
					Context("attribute", a.Name).
					Build()
			}
			a.Elements = n
		}
		switch {
		case a.Kind.Numeric():
			a.Offset = s.NumericWidth
			s.NumericWidth += a.Elements
		case a.Kind == KindString:
			a.Offset = s.StringWidth
			s.StringWidth += a.Elements
		default:
			return nil, errors.Newf("attribute %q has invalid kind %d", a.Name, a.Kind).
				Component("textdata").
				Category(errors.CategoryValidation).
				Build()
		}
		s.Attributes[i] = a
		s.byName[a.Name] = i
	}
	return s, nil
}

// Lookup returns the attribute called name.
func (s *Schema) Lookup(name string) (Attribute, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Attribute{}, false
	}
	return s.Attributes[i], true
}

// Elements returns the total number of elements per record.
func (s *Schema) Elements() int {
	return s.NumericWidth + s.StringWidth
}

// Record is one data line. Numeric elements (ints and floats) are stored in
// header order in Numbers, string elements in Strings.
type Record struct {
	Line    int
	Numbers []float64
	Strings []string
}

// Float returns the first element of a numeric attribute.
func (r *Record) Float(a Attribute) float64 {
	return r.Numbers[a.Offset]
}

// Floats returns the elements of a numeric attribute. The slice aliases the record.
func (r *Record) Floats(a Attribute) []float64 {
	return r.Numbers[a.Offset : a.Offset+a.Elements]
}

// Text returns the first element of a string attribute.
func (r *Record) Text(a Attribute) string {
	return r.Strings[a.Offset]
}
