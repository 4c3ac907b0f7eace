package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/flatfs/internal/config"
	"github.com/bamsammich/flatfs/internal/ui"
	"github.com/bamsammich/flatfs/internal/vfs"
)

// policyFlags configures the compaction policy of mount and compact
// --if-needed.
type policyFlags struct {
	interval  time.Duration
	threshold float64
	minDead   sizeValue
}

func newPolicyFlags(cmd *cobra.Command) *policyFlags {
	p := &policyFlags{
		interval:  vfs.DefaultPolicy.Interval,
		threshold: vfs.DefaultPolicy.Threshold,
		minDead:   sizeValue(vfs.DefaultPolicy.MinDeadBytes),
	}
	cmd.Flags().DurationVar(&p.interval, "compact-interval", p.interval, "how often to check whether compaction is due (0 disables)")
	cmd.Flags().Float64Var(&p.threshold, "compact-threshold", p.threshold, "minimum dead fraction of the data file before compacting")
	cmd.Flags().Var(&p.minDead, "compact-min-dead", "minimum reclaimable bytes before compacting (default 64M)")
	return p
}

// policy merges the config file's [compaction] section under explicit flags.
func (p *policyFlags) policy(cmd *cobra.Command, c config.CompactionConfig) (vfs.Policy, error) {
	flags := cmd.Flags()
	if !flags.Changed("compact-interval") && c.Interval != nil {
		d, err := c.IntervalDuration()
		if err != nil {
			return vfs.Policy{}, usageError(err)
		}
		p.interval = d
	}
	if !flags.Changed("compact-threshold") && c.Threshold != nil {
		p.threshold = *c.Threshold
	}
	if !flags.Changed("compact-min-dead") && c.MinDead != nil {
		if err := p.minDead.Set(*c.MinDead); err != nil {
			return vfs.Policy{}, usageError(fmt.Errorf("config compaction.min_dead: %w", err))
		}
	}
	if p.threshold < 0 || p.threshold > 1 {
		return vfs.Policy{}, usageError(fmt.Errorf("--compact-threshold must be within 0..1, got %g", p.threshold))
	}
	return vfs.Policy{
		Interval:     p.interval,
		Threshold:    p.threshold,
		MinDeadBytes: int64(p.minDead),
	}, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func newCompactCmd(g *globals) *cobra.Command {
	var ifNeeded bool
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Reclaim space held by removed files and unused capacity",
		Args:  cobra.NoArgs,
	}
	policyFlags := newPolicyFlags(cmd)
	cmd.Flags().BoolVar(&ifNeeded, "if-needed", false, "compact only when the compaction policy is due")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		policy, err := policyFlags.policy(cmd, g.cfg.Compaction)
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		return g.withFS(func(fs *vfs.FS) error {
			if ifNeeded {
				u, err := fs.Usage()
				if err != nil {
					return err
				}
				if !policy.Due(u) {
					g.logger.Info("compaction not needed",
						"dead_bytes", u.DeadBytes, "dead_ratio", ui.FormatPercent(u.DeadRatio()))
					return nil
				}
			}
			res, err := fs.Compact(ctx)
			if err != nil {
				return err
			}
			if !g.quiet {
				fmt.Fprintf(g.stdout, "compacted %s -> %s, reclaimed %s, dropped %d entries in %s\n",
					ui.FormatBytes(res.Before), ui.FormatBytes(res.After),
					ui.FormatBytes(res.Reclaimed), res.Dropped, ui.FormatDuration(res.Elapsed))
			}
			return nil
		})
	}
	return cmd
}

func newFsckCmd(g *globals) *cobra.Command {
	var hash bool
	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "Verify the catalog and optionally read every file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			err := g.withFS(func(fs *vfs.FS) error {
				report, err := fs.Check(ctx, hash)
				if err != nil {
					return err
				}
				fmt.Fprintf(g.stdout, "ok: %s files, %s\n",
					ui.FormatCount(int64(report.Files)), ui.FormatBytes(report.Bytes))
				if hash {
					printSums(g, report.Hashes)
				}
				return nil
			})
			// Corruption is a failed check, not a usage error.
			if errors.Is(err, vfs.ErrCorrupt) {
				return opError(errors.Unwrap(err))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&hash, "hash", false, "read every file and print its BLAKE3 digest")
	return cmd
}

func printSums(g *globals, sums map[string]string) {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(g.stdout, "%s  %s\n", sums[name], name)
	}
}

func newSumCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sum [NAME...]",
		Short: "Print BLAKE3 digests of files (all files when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			return g.withFS(func(fs *vfs.FS) error {
				names := args
				if len(names) == 0 {
					files, err := fs.List()
					if err != nil {
						return err
					}
					for _, f := range files {
						names = append(names, f.Name)
					}
				}
				for _, name := range names {
					sum, err := fs.Hash(ctx, name)
					if err != nil {
						return err
					}
					fmt.Fprintf(g.stdout, "%s  %s\n", sum, name)
				}
				return nil
			})
		},
	}
}

func newDfCmd(g *globals) *cobra.Command {
	var bytes bool
	cmd := &cobra.Command{
		Use:   "df",
		Short: "Show storage usage and reclaimable space",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return g.withFS(func(fs *vfs.FS) error {
				u, err := fs.Usage()
				if err != nil {
					return err
				}
				opts := outputOptions(g)
				opts.Bytes = bytes
				return ui.RenderUsage(g.stdout, u, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&bytes, "bytes", false, "show exact byte counts")
	return cmd
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the image is mounted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			rec, err := config.ReadMountRecord(g.store.lockPath())
			switch {
			case err == nil:
				fmt.Fprintf(g.stdout, "mounted at %s (pid %d, %s backend) since %s\n",
					rec.Mountpoint, rec.PID, rec.Backend, rec.Started.Format(time.RFC3339))
				return nil
			case !errors.Is(err, os.ErrNotExist):
				return opError(fmt.Errorf("read mount record: %w", err))
			}
			if !fileExists(g.store.lockPath()) {
				fmt.Fprintf(g.stdout, "no image at %s\n", g.store.lockPath())
				return nil
			}
			fmt.Fprintln(g.stdout, "not mounted")
			return nil
		},
	}
}
