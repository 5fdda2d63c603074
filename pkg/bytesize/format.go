// Package bytesize provides human-friendly byte size formatting.
package bytesize

import (
	"fmt"
)

// units in ascending order; the 1024-based prefixes are used.
var units = []string{"B", "KB", "MB", "GB", "TB"}

// Format renders a byte count as a human-friendly string with at most one
// decimal place.
//
// Examples:
//
//	Format(512)        // "512 B"
//	Format(1536)       // "1.5 KB"
//	Format(536870912)  // "512 MB"
func Format(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes)
	unit := units[0]
	for _, u := range units[1:] {
		if value < 1024 {
			break
		}
		value /= 1024
		unit = u
	}

	if unit == "B" {
		return fmt.Sprintf("%d B", bytes)
	}
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d %s", int64(value), unit)
	}
	return fmt.Sprintf("%.1f %s", value, unit)
}
