package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks filesystem operation statistics using lock-free atomic
// counters.
type Collector struct {
	reads          atomic.Int64
	writes         atomic.Int64
	bytesRead      atomic.Int64
	bytesWritten   atomic.Int64
	creates        atomic.Int64
	removes        atomic.Int64
	renames        atomic.Int64
	truncates      atomic.Int64
	errors         atomic.Int64
	compactions    atomic.Int64
	bytesReclaimed atomic.Int64
	startTime      time.Time

	// Ring buffer, written only by Tick.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes written per tick
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Reads          int64
	Writes         int64
	BytesRead      int64
	BytesWritten   int64
	Creates        int64
	Removes        int64
	Renames        int64
	Truncates      int64
	Errors         int64
	Compactions    int64
	BytesReclaimed int64
	Elapsed        time.Duration
}

func (c *Collector) AddRead(n int64) {
	c.reads.Add(1)
	c.bytesRead.Add(n)
}

func (c *Collector) AddWrite(n int64) {
	c.writes.Add(1)
	c.bytesWritten.Add(n)
}

func (c *Collector) AddCreate()   { c.creates.Add(1) }
func (c *Collector) AddRemove()   { c.removes.Add(1) }
func (c *Collector) AddRename()   { c.renames.Add(1) }
func (c *Collector) AddTruncate() { c.truncates.Add(1) }
func (c *Collector) AddError()    { c.errors.Add(1) }

// AddCompaction records a finished compaction and the bytes it reclaimed.
func (c *Collector) AddCompaction(reclaimed int64) {
	c.compactions.Add(1)
	c.bytesReclaimed.Add(reclaimed)
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Reads:          c.reads.Load(),
		Writes:         c.writes.Load(),
		BytesRead:      c.bytesRead.Load(),
		BytesWritten:   c.bytesWritten.Load(),
		Creates:        c.creates.Load(),
		Removes:        c.removes.Load(),
		Renames:        c.renames.Load(),
		Truncates:      c.truncates.Load(),
		Errors:         c.errors.Load(),
		Compactions:    c.compactions.Load(),
		BytesReclaimed: c.bytesReclaimed.Load(),
		Elapsed:        c.Elapsed(),
	}
}

// Tick snapshots the bytes-written delta into the ring buffer.
func (c *Collector) Tick() {
	current := c.bytesWritten.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns the average bytes written per tick over the last n
// ticks.
func (c *Collector) RollingSpeed(n int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(n, c.ringCount)
	if count == 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// History returns up to n per-tick write deltas, oldest first.
func (c *Collector) History(n int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(n, c.ringCount)
	out := make([]float64, count)
	for i := range count {
		idx := (c.ringIdx - count + i + ringSize) % ringSize
		out[i] = float64(c.throughput[idx])
	}
	return out
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"reads=%d writes=%d read=%d written=%d creates=%d removes=%d renames=%d errors=%d compactions=%d",
		s.Reads, s.Writes, s.BytesRead, s.BytesWritten,
		s.Creates, s.Removes, s.Renames, s.Errors, s.Compactions,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
