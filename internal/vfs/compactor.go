package vfs

import (
	"context"
	"errors"
	"time"
)

// Policy decides when the background compactor runs.
type Policy struct {
	Interval time.Duration
	// Threshold is the minimum dead-bytes ratio (0..1).
	Threshold float64
	// MinDeadBytes is the minimum reclaimable bytes.
	MinDeadBytes int64
}

// DefaultPolicy checks every five minutes and compacts once a quarter of the
// data region and at least 64 MiB are reclaimable.
var DefaultPolicy = Policy{
	Interval:     5 * time.Minute,
	Threshold:    0.25,
	MinDeadBytes: 64 << 20,
}

// Due reports whether u warrants a compaction under p.
func (p Policy) Due(u Usage) bool {
	return u.DeadBytes > 0 && u.DeadBytes >= p.MinDeadBytes && u.DeadRatio() >= p.Threshold
}

// RunCompactor compacts whenever p is due, checking every p.Interval, until
// ctx is done. A failed pass is logged and retried on the next tick.
func (fs *FS) RunCompactor(ctx context.Context, p Policy) error {
	if p.Interval <= 0 {
		return errors.New("compactor interval must be positive")
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u, err := fs.Usage()
			if err != nil {
				fs.log.Warn("compactor usage check failed", "error", err)
				continue
			}
			if !p.Due(u) {
				continue
			}
			fs.log.Info("compacting", "dead_bytes", u.DeadBytes, "data_bytes", u.DataBytes)
			if _, err := fs.Compact(ctx); err != nil && ctx.Err() == nil {
				fs.log.Error("background compaction failed", "error", err)
			}
		}
	}
}
