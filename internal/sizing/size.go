// Package sizing provides checked size arithmetic for values decoded from
// untrusted archive headers.
package sizing

import "math"

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddUint64 adds two uint64 values, returning (result, false) on overflow.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Span returns off+length as an int64 end offset, checking that the range
// fits within limit.
func Span(off, length uint64, limit int64, overflowErr error) (int64, error) {
	end, ok := AddUint64(off, length)
	if !ok || limit < 0 || end > uint64(limit) {
		return 0, overflowErr
	}
	return int64(end), nil //nolint:gosec // bounded by limit above
}
