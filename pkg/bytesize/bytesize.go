// Package bytesize parses and formats human-readable byte sizes such as
// "8MB" or "512 KiB". All units use a binary (1024) base; a bare number is
// a count of bytes.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

// Binary size units.
const (
	B  Size = 1
	KB      = 1024 * B
	MB      = 1024 * KB
	GB      = 1024 * MB
	TB      = 1024 * GB
)

// units is ordered largest first so Format picks the biggest fitting unit.
var units = []struct {
	name    string
	aliases []string
	size    Size
}{
	{"TB", []string{"t", "tb", "tib"}, TB},
	{"GB", []string{"g", "gb", "gib"}, GB},
	{"MB", []string{"m", "mb", "mib"}, MB},
	{"KB", []string{"k", "kb", "kib"}, KB},
	{"B", []string{"", "b", "byte", "bytes"}, B},
}

// Parse converts strings like "5MB", "1.5 GB" or "1024" into a Size.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	split := strings.IndexFunc(trimmed, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	number, unit := trimmed, ""
	if split >= 0 {
		number, unit = trimmed[:split], strings.ToLower(strings.TrimSpace(trimmed[split:]))
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", number, err)
	}

	for _, u := range units {
		for _, alias := range u.aliases {
			if alias == unit {
				return Size(value * float64(u.size)), nil
			}
		}
	}
	return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
}

// Format renders s using the largest unit that keeps the value >= 1,
// with at most two decimals.
func Format(s Size) string {
	if s < 0 {
		return "-" + Format(-s)
	}
	for _, u := range units {
		if s >= u.size && u.size > B {
			v := strconv.FormatFloat(float64(s)/float64(u.size), 'f', 2, 64)
			v = strings.TrimRight(strings.TrimRight(v, "0"), ".")
			return v + u.name
		}
	}
	return fmt.Sprintf("%dB", int64(s))
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return Format(s)
}

// Bytes returns the raw byte count.
func (s Size) Bytes() int64 {
	return int64(s)
}
