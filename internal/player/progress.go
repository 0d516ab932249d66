package player

import (
	"strings"
	"time"
)

// ProgressBar renders a fixed-width playback position bar with a marker
// at the current position. Live or unknown-length tracks get a full bar
// with no marker.
func ProgressBar(elapsed, total time.Duration, width int) string {
	if width <= 0 {
		width = 10
	}
	if total <= 0 {
		return strings.Repeat("▬", width)
	}
	pos := int(float64(width) * float64(elapsed) / float64(total))
	if pos < 0 {
		pos = 0
	}
	if pos >= width {
		pos = width - 1
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i == pos {
			b.WriteString("🔘")
			continue
		}
		b.WriteString("▬")
	}
	return b.String()
}
