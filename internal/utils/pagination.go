// Package utils holds query-string helpers shared by the HTTP handlers.
package utils

import "strconv"

// Page bounds for marketplace listings.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s, or returns def when s is empty or not an integer.
func AtoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses page and page_size query values. Pages start at 1 and
// sizes are kept within [1, MaxPageSize].
func ClampPage(page, size string) (int, int) {
	p := max(AtoiDefault(page, 1), 1)
	s := min(max(AtoiDefault(size, DefaultPageSize), 1), MaxPageSize)
	return p, s
}

// TotalPages is the number of size-row pages needed for total rows.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
