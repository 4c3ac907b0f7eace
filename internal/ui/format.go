package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bamsammich/flatfs/internal/stats"
)

// FormatRate formats a bytes-per-second rate as a human-readable string.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	units := []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
	val := bytesPerSec
	for _, u := range units {
		if val < 1024 {
			if val < 10 {
				return fmt.Sprintf("%.2f %s", val, u)
			}
			if val < 100 {
				return fmt.Sprintf("%.1f %s", val, u)
			}
			return fmt.Sprintf("%.0f %s", val, u)
		}
		val /= 1024
	}
	return fmt.Sprintf("%.1f PB/s", val)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a 0..1 ratio.
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// UsageBar renders the live share of the data region using ▪ for live bytes
// and □ for reclaimable bytes.
func UsageBar(live, total int64, width int) string {
	if width <= 0 {
		return ""
	}
	pct := 1.0
	if total > 0 {
		pct = float64(live) / float64(total)
	}
	pct = max(0, min(1, pct))
	filled := min(int(pct*float64(width)), width)
	return strings.Repeat("▪", filled) + strings.Repeat("□", width-filled)
}

// FormatBytes wraps stats.FormatBytes for UI use.
func FormatBytes(b int64) string {
	return stats.FormatBytes(b)
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// Summary builds the one-line session summary printed on unmount.
// Format: done ✓  writes 1,024  written 2.1 GiB  reads 96  read 1.0 MiB  compactions 1  time 3m 17s  errors 0
func Summary(snap stats.Snapshot) string {
	icon := "✓"
	if snap.Errors > 0 {
		icon = "✗"
	}
	base := fmt.Sprintf("done %s  writes %s  written %s  reads %s  read %s",
		icon,
		FormatCount(snap.Writes),
		FormatBytes(snap.BytesWritten),
		FormatCount(snap.Reads),
		FormatBytes(snap.BytesRead),
	)
	if snap.Compactions > 0 {
		base += fmt.Sprintf("  compactions %d  reclaimed %s",
			snap.Compactions, FormatBytes(snap.BytesReclaimed))
	}
	return base + fmt.Sprintf("  time %s  errors %d", FormatDuration(snap.Elapsed), snap.Errors)
}
