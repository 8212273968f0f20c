// Package utils holds tiny helpers with no domain knowledge.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or not a
// plain integer. Query parameters like ?limit= and ?offset= funnel through
// here, so garbage input degrades to the default instead of an error.
//
//	utils.AtoiDefault("25", 20) // 25
//	utils.AtoiDefault("", 20)   // 20
//	utils.AtoiDefault("all", 20) // 20
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
