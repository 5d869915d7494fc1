// Package kibi parses and formats human readable byte sizes such as "256 MB".
// All units are powers of 1024.
package kibi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidByteSizeString = fmt.Errorf("Invalid byte size string")

var sizeRegex = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-z]*)$`)

var units = []string{"bytes", "KB", "MB", "GB", "TB", "PB"}

var multipliers = map[string]int64{
	"":      1,
	"b":     1,
	"bytes": 1,
	"k":     1 << 10,
	"kb":    1 << 10,
	"m":     1 << 20,
	"mb":    1 << 20,
	"g":     1 << 30,
	"gb":    1 << 30,
	"t":     1 << 40,
	"tb":    1 << 40,
	"p":     1 << 50,
	"pb":    1 << 50,
}

// FormatBytes rounds down to the largest whole unit, eg 1536 -> "1 KB"
func FormatBytes(b int64) string {
	u := 0
	for u < len(units)-1 && b >= 1024 {
		b /= 1024
		u++
	}
	return fmt.Sprintf("%v %v", b, units[u])
}

// Parse accepts an optional unit suffix, either the full form (mb, GB) or
// just the letter (m, g). Fractions are allowed, eg "1.5 GB".
func Parse(v string) (int64, error) {
	m := sizeRegex.FindStringSubmatch(strings.TrimSpace(strings.ToLower(v)))
	if m == nil {
		return 0, fmt.Errorf("%w '%v'", ErrInvalidByteSizeString, v)
	}
	mul, ok := multipliers[m[2]]
	if !ok {
		return 0, fmt.Errorf("%w '%v'", ErrInvalidByteSizeString, v)
	}
	if !strings.Contains(m[1], ".") {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return n * mul, nil
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	return int64(f * float64(mul)), nil
}

// ByteSize is a byte count that is written in config files as a string like "512 MB"
type ByteSize int64

func (b ByteSize) String() string {
	return FormatBytes(int64(b))
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := Parse(value.Value)
	if err != nil {
		return fmt.Errorf("line %v: %w", value.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}
