// Package datastore keeps parsed event tables in a SQL database through gorm.
//
// The schema is stored one attribute per row; each record is one row with
// its numeric elements packed into a little-endian float64 blob and its
// string elements joined by tabs (tokens never contain whitespace).
package datastore

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Attribute is one header attribute, in header order.
type Attribute struct {
	ID       uint   `gorm:"primaryKey"`
	Position int    `gorm:"uniqueIndex;not null"`
	Name     string `gorm:"size:128;not null"`
	Dims     string `gorm:"size:64"` // comma separated, empty for scalars
	Elements int    `gorm:"not null"`
	Kind     string `gorm:"size:16;not null"`
}

// TableName overrides gorm's default.
func (Attribute) TableName() string { return "attributes" }

// Event is one stored record.
type Event struct {
	ID      uint   `gorm:"primaryKey"`
	Line    int    `gorm:"index;not null"`
	Numeric []byte
	Strings string `gorm:"type:text"`
}

// TableName overrides gorm's default.
func (Event) TableName() string { return "events" }

// Metadata holds table-level values such as the file description.
type Metadata struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value string `gorm:"type:text"`
}

// TableName overrides gorm's default.
func (Metadata) TableName() string { return "metadata" }

const (
	descriptionKey  = "description"
	stringSeparator = "\t"
)

func encodeNumbers(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeNumbers(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("numeric blob length %d is not a multiple of 8", len(buf))
	}
	values := make([]float64, len(buf)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return values, nil
}

func joinDims(dims []int) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func splitDims(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var dims []int
	for part := range strings.SplitSeq(s, ",") {
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad dimension %q: %w", part, err)
		}
		dims = append(dims, d)
	}
	return dims, nil
}
