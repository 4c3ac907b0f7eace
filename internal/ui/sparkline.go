package ui

import (
	"math"
	"slices"
	"strings"
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width samples as block runes. The scale is the
// larger of the peak sample and floor, so a trickle of I/O on an otherwise
// idle mount stays low instead of filling the line. Idle samples draw the
// lowest block, any activity at least the second, and slots with no sample
// yet are blank.
func Sparkline(samples []float64, width int, floor float64) string {
	if width <= 0 {
		return ""
	}
	if len(samples) > width {
		samples = samples[len(samples)-width:]
	}

	scale := floor
	if len(samples) > 0 {
		scale = max(scale, slices.Max(samples))
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width-len(samples)))
	top := len(sparkBlocks) - 1
	for _, v := range samples {
		if v <= 0 || scale <= 0 {
			b.WriteRune(sparkBlocks[0])
			continue
		}
		idx := int(math.Ceil(v / scale * float64(top)))
		b.WriteRune(sparkBlocks[min(max(idx, 1), top)])
	}
	return b.String()
}
