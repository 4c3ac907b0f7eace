package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bamsammich/flatfs/internal/region"
	"github.com/bamsammich/flatfs/internal/vfs"
)

// Compact rewrites the Data Region with Live extents packed in catalog order,
// each trimmed to its size, and drops every tombstone. The new data and
// metadata are built beside the originals and swapped in by rename, data
// first. Cancelling ctx before the swap leaves the store unchanged.
func (s *Store) Compact(ctx context.Context) (vfs.CompactResult, error) {
	if s.closed {
		return vfs.CompactResult{}, ErrClosed
	}
	start := time.Now()
	if err := s.Flush(); err != nil {
		return vfs.CompactResult{}, fmt.Errorf("flush before compaction: %w", err)
	}

	plan := s.cat.PlanCompact()
	res := vfs.CompactResult{Before: s.data.Len(), After: plan.End, Dropped: plan.Dropped}
	if plan.Dropped == 0 && plan.End == s.data.Len() {
		res.Elapsed = time.Since(start)
		return res, nil
	}

	dataTmp := s.opts.DataPath + compactSuffix
	metaTmp := s.opts.MetaPath + compactSuffix
	cleanup := func() {
		_ = os.Remove(dataTmp)
		_ = os.Remove(metaTmp)
	}

	f, err := os.OpenFile(dataTmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return res, fmt.Errorf("create %s: %w", dataTmp, err)
	}
	limiter := region.NewLimiter(s.opts.BandwidthLimit)
	for _, m := range plan.Moves {
		if m.From.Len() == 0 {
			continue
		}
		if _, err := s.data.CopyTo(ctx, f, m.From.Start, m.To.Start, m.From.Len(), limiter); err != nil {
			f.Close()
			cleanup()
			return res, fmt.Errorf("compact %q: %w", m.Name, err)
		}
	}
	if err := f.Truncate(plan.End); err != nil {
		f.Close()
		cleanup()
		return res, fmt.Errorf("size %s: %w", dataTmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		cleanup()
		return res, fmt.Errorf("sync %s: %w", dataTmp, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return res, err
	}

	compacted := s.cat.Compacted(plan)
	if err := writeFileSync(metaTmp, compacted); err != nil {
		cleanup()
		return res, err
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return res, err
	}

	// Point of no return: from here on Open completes the swap.
	if err := os.Rename(dataTmp, s.opts.DataPath); err != nil {
		cleanup()
		return res, fmt.Errorf("swap data: %w", err)
	}
	if err := syncDir(filepath.Dir(s.opts.DataPath)); err != nil {
		return res, s.abandon(err)
	}
	if err := os.Rename(metaTmp, s.opts.MetaPath); err != nil {
		return res, s.abandon(fmt.Errorf("swap metadata: %w", err))
	}
	if err := syncDir(filepath.Dir(s.opts.MetaPath)); err != nil {
		return res, s.abandon(err)
	}

	data, err := openRegion(s.opts.DataPath)
	if err != nil {
		return res, s.abandon(err)
	}
	s.data.Close()
	s.data = data
	s.cat = compacted

	res.Reclaimed = res.Before - res.After
	res.Elapsed = time.Since(start)
	s.log.Info("compacted data region",
		"before", res.Before,
		"after", res.After,
		"dropped", res.Dropped,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// abandon closes the store without flushing after a failure past the data
// swap. The in-memory catalog and the open data file describe the replaced
// image, so nothing more may be written through them; the next Open finishes
// the swap from the files on disk.
func (s *Store) abandon(err error) error {
	s.closeFiles()
	s.closed = true
	s.log.Error("compaction failed after data swap, store closed", "error", err)
	return fmt.Errorf("finish compaction (reopen to recover): %w", err)
}
