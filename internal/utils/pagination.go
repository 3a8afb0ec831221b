// Package utils provides small helpers shared across layers, free of any
// domain logic.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not a
// valid integer. The listing handlers use it for the optional limit and
// offset query parameters, where a garbled value should mean "use the
// default page" rather than a 400.
//
//	limit := utils.AtoiDefault(c.Query("limit"), 0)
//	offset := utils.AtoiDefault(c.Query("offset"), 0)
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
