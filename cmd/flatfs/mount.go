package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/flatfs/internal/config"
	"github.com/bamsammich/flatfs/internal/event"
	"github.com/bamsammich/flatfs/internal/fuse"
	"github.com/bamsammich/flatfs/internal/stats"
	"github.com/bamsammich/flatfs/internal/ui"
	"github.com/bamsammich/flatfs/internal/vfs"
)

type mountFlags struct {
	allowOther bool
	fsName     string
	debugFuse  bool
	activity   time.Duration
}

func newMountCmd(g *globals) *cobra.Command {
	var mf mountFlags
	cmd := &cobra.Command{
		Use:   "mount MOUNTPOINT",
		Short: "Mount the image with FUSE and serve it until interrupted",
		Long: `Mount the image at MOUNTPOINT and serve it in the foreground until SIGINT or
SIGTERM, or until the filesystem is unmounted externally (fusermount -u).

While mounted, a background compactor checks the dead-space policy every
--compact-interval and compacts the data file when it is due. On exit all
metadata is flushed.`,
		Args: cobra.ExactArgs(1),
	}
	pf := newPolicyFlags(cmd)
	cmd.Flags().BoolVar(&mf.allowOther, "allow-other", false, "allow other users to access the mount")
	cmd.Flags().StringVar(&mf.fsName, "fsname", "flatfs", "source name shown in /proc/mounts")
	cmd.Flags().BoolVar(&mf.debugFuse, "debug-fuse", false, "log every FUSE request")
	cmd.Flags().DurationVar(&mf.activity, "activity", 10*time.Second, "interval of the activity line on stderr (0 disables)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("allow-other") && g.cfg.Mount.AllowOther != nil {
			mf.allowOther = *g.cfg.Mount.AllowOther
		}
		if !cmd.Flags().Changed("fsname") && g.cfg.Mount.FsName != nil {
			mf.fsName = *g.cfg.Mount.FsName
		}
		policy, err := pf.policy(cmd, g.cfg.Compaction)
		if err != nil {
			return err
		}
		return runMount(cmd, g, args[0], mf, policy)
	}
	return cmd
}

//nolint:revive // cyclomatic: mount lifecycle wires fs, fuse server, compactor and monitor
func runMount(cmd *cobra.Command, g *globals, mountpoint string, mf mountFlags, policy vfs.Policy) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)

	fs, err := g.openFS(vfs.Options{Events: events, Stats: collector})
	if err != nil {
		return err
	}

	server, err := fuse.Mount(fuse.Options{
		Mountpoint: mountpoint,
		FS:         fs,
		AllowOther: mf.allowOther,
		FsName:     mf.fsName,
		Debug:      mf.debugFuse,
		Logger:     g.logger.With("component", "fuse"),
	})
	if err != nil {
		fs.Close()
		return usageError(err)
	}

	if err := config.WriteMountRecord(g.store.lockPath(), config.MountRecord{
		Mountpoint: mountpoint,
		PID:        os.Getpid(),
		Backend:    g.store.backend,
		Started:    time.Now(),
	}); err != nil {
		g.logger.Warn("failed to write mount record", "error", err)
	}
	defer config.RemoveMountRecord(g.store.lockPath())

	// When --log is set, tee events through a logging goroutine that writes
	// structured records before forwarding to the monitor.
	monitorEvents := (<-chan event.Event)(events)
	if g.logFile != "" {
		teed := make(chan event.Event, 256)
		go func() {
			for ev := range events {
				attrs := []slog.Attr{
					slog.String("type", ev.Type.String()),
					slog.String("name", ev.Name),
					slog.Int64("size", ev.Size),
				}
				if ev.NewName != "" {
					attrs = append(attrs, slog.String("new_name", ev.NewName))
				}
				if ev.Error != nil {
					attrs = append(attrs, slog.String("error", ev.Error.Error()))
				}
				g.logger.LogAttrs(context.Background(), slog.LevelDebug, "flatfs.event", attrs...)
				teed <- ev
			}
			close(teed)
		}()
		monitorEvents = teed
	}

	monitor := &ui.Monitor{
		W:        g.stderr,
		Stats:    collector,
		Interval: mf.activity,
		Verbose:  g.verbose,
	}
	if f, ok := g.stderr.(*os.File); ok {
		monitor.Color = ui.UseColor(f.Fd())
	}
	if mf.activity <= 0 || g.quiet {
		monitor.Stats = nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if g.quiet {
			for range monitorEvents {
			}
			return
		}
		monitor.Run(context.Background(), monitorEvents)
	}()

	bgCtx, bgCancel := context.WithCancel(ctx)
	var bg sync.WaitGroup
	if policy.Interval > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := fs.RunCompactor(bgCtx, policy); err != nil {
				g.logger.Error("compactor stopped", "error", err)
			}
		}()
	}

	// Unmount on signal; an external unmount ends Wait on its own.
	served := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := server.Unmount(); err != nil {
				g.logger.Warn("unmount failed", "error", err)
			}
		case <-served:
		}
	}()

	server.Wait()
	close(served)
	bgCancel()
	bg.Wait()

	closeErr := fs.Close()
	close(events)
	wg.Wait()

	if !g.quiet {
		fmt.Fprintln(g.stderr, ui.Summary(collector.Snapshot()))
	}
	if closeErr != nil {
		return opError(fmt.Errorf("close filesystem: %w", closeErr))
	}
	return nil
}
