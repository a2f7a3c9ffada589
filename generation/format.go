package generation

import (
	"fmt"
	"math"
)

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "0:00"
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func FormatFileSize(mb float64) string {
	switch {
	case mb <= 0:
		return "0 MB"
	case mb < 1:
		return fmt.Sprintf("%.0f KB", mb*1024)
	default:
		return fmt.Sprintf("%.2f MB", mb)
	}
}

func FormatRealtime(factor float64) string {
	if factor <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", factor)
}
