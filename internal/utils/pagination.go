package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// malformed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// IntInRange parses a query value and clamps it to [lo, hi]. Blank or
// malformed input yields def, which is clamped as well.
func IntInRange(s string, def, lo, hi int) int {
	n := AtoiDefault(strings.TrimSpace(s), def)
	switch {
	case n < lo:
		return lo
	case n > hi:
		return hi
	}
	return n
}
