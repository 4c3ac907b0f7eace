package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/flatfs/internal/config"
	"github.com/bamsammich/flatfs/internal/journal"
	"github.com/bamsammich/flatfs/internal/sqlstore"
	"github.com/bamsammich/flatfs/internal/stats"
	"github.com/bamsammich/flatfs/internal/store"
	"github.com/bamsammich/flatfs/internal/vfs"
)

const (
	backendExtent = "extent"
	backendSQLite = "sqlite"

	defaultDataPath   = "flatfs.data"
	defaultSQLitePath = "flatfs.db"
)

// storeFlags selects and configures the storage backend.
type storeFlags struct {
	data      string
	meta      string
	backend   string
	sqlite    string
	nameMax   int
	noJournal bool
	sync      string
	bwLimit   sizeValue
}

func (f *storeFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.data, "data", "d", defaultDataPath, "data file")
	fs.StringVarP(&f.meta, "meta", "m", "", "metadata file (default: data file with a .meta extension)")
	fs.StringVar(&f.backend, "backend", backendExtent, "storage backend (extent or sqlite)")
	fs.StringVar(&f.sqlite, "sqlite", defaultSQLitePath, "database file for the sqlite backend")
	fs.IntVar(&f.nameMax, "name-max", 0, "maximum file name length in bytes (default: 253)")
	fs.BoolVar(&f.noJournal, "no-journal", false, "disable the mutation journal (metadata is written only on flush)")
	fs.StringVar(&f.sync, "sync", "always", "journal sync policy (always or never)")
	fs.Var(&f.bwLimit, "bwlimit", "compaction copy bandwidth limit (e.g. 100M)")
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the CLI.
func (f *storeFlags) applyConfigDefaults(cmd *cobra.Command, c config.StoreConfig) {
	flags := cmd.Flags()
	if !flags.Changed("data") && c.Data != nil {
		f.data = *c.Data
	}
	if !flags.Changed("meta") && c.Metadata != nil {
		f.meta = *c.Metadata
	}
	if !flags.Changed("backend") && c.Backend != nil {
		f.backend = *c.Backend
	}
	if !flags.Changed("sqlite") && c.SQLite != nil {
		f.sqlite = *c.SQLite
	}
	if !flags.Changed("name-max") && c.NameMax != nil {
		f.nameMax = *c.NameMax
	}
	if !flags.Changed("no-journal") && c.Journal != nil {
		f.noJournal = !*c.Journal
	}
	if !flags.Changed("sync") && c.Sync != nil {
		f.sync = *c.Sync
	}
}

func (f *storeFlags) metaPath() string {
	if f.meta != "" {
		return f.meta
	}
	return strings.TrimSuffix(f.data, filepath.Ext(f.data)) + ".meta"
}

// lockPath is the file whose lock guards the image, used to find its mount
// record.
func (f *storeFlags) lockPath() string {
	if f.backend == backendSQLite {
		return f.sqlite
	}
	return f.data
}

func (f *storeFlags) backendFor(g *globals) (vfs.Backend, error) {
	switch f.backend {
	case backendExtent:
		mode, err := journal.ParseSyncMode(f.sync)
		if err != nil {
			return nil, usageError(err)
		}
		s, err := store.Open(store.Options{
			DataPath:       f.data,
			MetaPath:       f.metaPath(),
			NameMax:        f.nameMax,
			NoJournal:      f.noJournal,
			Sync:           mode,
			BandwidthLimit: int64(f.bwLimit),
			Logger:         g.logger.With("component", "store"),
		})
		if err != nil {
			return nil, usageError(f.describeOpenError(err))
		}
		return s, nil
	case backendSQLite:
		s, err := sqlstore.Open(sqlstore.Options{
			Path:    f.sqlite,
			NameMax: f.nameMax,
			Logger:  g.logger.With("component", "sqlstore"),
		})
		if err != nil {
			return nil, usageError(err)
		}
		return s, nil
	default:
		return nil, usageError(fmt.Errorf("unknown backend %q (want %s or %s)", f.backend, backendExtent, backendSQLite))
	}
}

// describeOpenError names the mount holding the image when the lock is taken.
func (f *storeFlags) describeOpenError(err error) error {
	if !errors.Is(err, store.ErrLocked) {
		return err
	}
	rec, recErr := config.ReadMountRecord(f.lockPath())
	if recErr != nil {
		return err
	}
	return fmt.Errorf("%w: mounted at %s by pid %d", err, rec.Mountpoint, rec.PID)
}

// openFS opens the configured backend and wraps it in a vfs.FS. The caller
// must Close the result.
func (g *globals) openFS(opts vfs.Options) (*vfs.FS, error) {
	backend, err := g.store.backendFor(g)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = g.logger
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewCollector()
	}
	return vfs.New(backend, opts), nil
}

// withFS runs fn against the image and closes it afterwards. Errors from fn
// are operation failures; a failed close is too.
func (g *globals) withFS(fn func(fs *vfs.FS) error) error {
	fs, err := g.openFS(vfs.Options{})
	if err != nil {
		return err
	}
	runErr := fn(fs)
	if err := fs.Close(); err != nil && runErr == nil {
		runErr = opError(fmt.Errorf("close: %w", err))
	}
	if runErr == nil {
		return nil
	}
	var exitErr *exitError
	if errors.As(runErr, &exitErr) {
		return runErr
	}
	return opError(runErr)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
