package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/flatfs/internal/event"
	"github.com/bamsammich/flatfs/internal/stats"
)

const (
	sparkWidth = 20
	// sparkFloor is the per-tick byte count drawn as a full block when
	// nothing larger is in the window.
	sparkFloor = 64 << 10
)

// Monitor prints filesystem events as they happen and a periodic activity
// line while a mount runs. It owns the throughput ticks of Stats.
type Monitor struct {
	W        io.Writer
	Stats    *stats.Collector
	Interval time.Duration
	// Verbose prints every event; otherwise only maintenance events and
	// failures are printed.
	Verbose bool
	Color   bool
}

// Run consumes events until the channel closes or ctx is done.
func (m *Monitor) Run(ctx context.Context, events <-chan event.Event) {
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case <-ticker.C:
			if m.Stats != nil {
				m.Stats.Tick()
				m.printActivity()
			}
		}
	}
}

func (m *Monitor) handleEvent(ev event.Event) {
	ts := ev.Timestamp.Format("15:04:05")
	if !ev.Type.Mutation() {
		m.printMaintenance(ts, ev)
		return
	}
	if !m.Verbose {
		return
	}
	switch ev.Type {
	case event.FileCreated:
		fmt.Fprintf(m.W, "%s create %s\n", ts, ev.Name)
	case event.FileWritten:
		fmt.Fprintf(m.W, "%s write  %s  %s @ %d\n", ts, ev.Name, FormatBytes(ev.Size), ev.Offset)
	case event.FileTruncated:
		fmt.Fprintf(m.W, "%s trunc  %s  %s\n", ts, ev.Name, FormatBytes(ev.Size))
	case event.FileRemoved:
		fmt.Fprintf(m.W, "%s rm     %s\n", ts, ev.Name)
	case event.FileRenamed:
		fmt.Fprintf(m.W, "%s mv     %s -> %s\n", ts, ev.Name, ev.NewName)
	}
}

func (m *Monitor) printMaintenance(ts string, ev event.Event) {
	p := painter(m.Color)
	switch ev.Type {
	case event.CompactStarted:
		fmt.Fprintf(m.W, "%s compacting\n", ts)
	case event.CompactComplete:
		fmt.Fprintf(m.W, "%s compacted, reclaimed %s\n", ts, p.paint(styleLive, FormatBytes(ev.Size)))
	case event.CompactFailed:
		fmt.Fprintf(m.W, "%s %s\n", ts, p.paint(styleError, fmt.Sprintf("compaction failed: %v", ev.Error)))
	case event.Flushed:
		if m.Verbose {
			fmt.Fprintf(m.W, "%s flushed\n", ts)
		}
	}
}

func (m *Monitor) printActivity() {
	p := painter(m.Color)
	snap := m.Stats.Snapshot()
	speed := m.Stats.RollingSpeed(6) / m.interval().Seconds()
	fmt.Fprintf(m.W, "activity %s %s  writes %s  reads %s  errors %d\n",
		p.paint(styleSparkline, Sparkline(m.Stats.History(sparkWidth), sparkWidth, sparkFloor)),
		p.paint(styleRate, FormatRate(speed)),
		FormatCount(snap.Writes),
		FormatCount(snap.Reads),
		snap.Errors,
	)
}

func (m *Monitor) interval() time.Duration {
	if m.Interval <= 0 {
		return 10 * time.Second
	}
	return m.Interval
}
