package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the optional flatfs configuration file.
type Config struct {
	Store      StoreConfig      `toml:"store"`
	Compaction CompactionConfig `toml:"compaction"`
	Mount      MountConfig      `toml:"mount"`
}

// StoreConfig selects and tunes the storage backend.
type StoreConfig struct {
	Data     *string `toml:"data"`
	Metadata *string `toml:"metadata"`
	Backend  *string `toml:"backend"`
	SQLite   *string `toml:"sqlite"`
	NameMax  *int    `toml:"name_max"`
	Journal  *bool   `toml:"journal"`
	Sync     *string `toml:"sync"`
}

// CompactionConfig holds the background compaction policy.
type CompactionConfig struct {
	Interval  *string  `toml:"interval"`
	Threshold *float64 `toml:"threshold"`
	MinDead   *string  `toml:"min_dead"`
	BWLimit   *string  `toml:"bwlimit"`
}

// MountConfig holds FUSE mount defaults.
type MountConfig struct {
	AllowOther *bool   `toml:"allow_other"`
	FsName     *string `toml:"fsname"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "flatfs", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path. A missing file yields a zero
// Config; unknown keys are an error so typos do not pass silently.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if b := c.Store.Backend; b != nil && *b != "extent" && *b != "sqlite" {
		return fmt.Errorf("store.backend: unknown backend %q", *b)
	}
	if n := c.Store.NameMax; n != nil && *n <= 0 {
		return fmt.Errorf("store.name_max: must be positive, got %d", *n)
	}
	if s := c.Store.Sync; s != nil && *s != "always" && *s != "never" {
		return fmt.Errorf("store.sync: want always or never, got %q", *s)
	}
	if _, err := c.Compaction.IntervalDuration(); err != nil {
		return err
	}
	if t := c.Compaction.Threshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("compaction.threshold: want 0..1, got %g", *t)
	}
	return nil
}

// IntervalDuration parses Interval. It returns 0 when unset.
func (c CompactionConfig) IntervalDuration() (time.Duration, error) {
	if c.Interval == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*c.Interval)
	if err != nil {
		return 0, fmt.Errorf("compaction.interval: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("compaction.interval: negative duration %s", d)
	}
	return d, nil
}
