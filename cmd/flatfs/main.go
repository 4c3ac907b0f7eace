package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/flatfs/internal/config"
	"github.com/bamsammich/flatfs/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	store      storeFlags
	configPath string
	verbose    bool
	quiet      bool
	logFile    string

	cfg    config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
	closer []func()
}

func run(args []string, stdout, stderr io.Writer) int {
	g := &globals{stdout: stdout, stderr: stderr}
	defer g.cleanup()

	root := newRootCmd(g)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd(g *globals) *cobra.Command {
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:   "flatfs",
		Short: "A flat, single-directory filesystem stored in one data file",
		Long: `flatfs stores a flat namespace of files as contiguous extents inside one
backing data file, with a separate metadata file and a mutation journal.

Mount it with FUSE, or inspect and modify an image directly with the file
subcommands (ls, cat, put, rm, mv, ...). The image must not be mounted while
file subcommands run; the data file is locked.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(g.stdout, "flatfs %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	pf := rootCmd.PersistentFlags()
	g.store.register(pf)
	pf.StringVar(&g.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/flatfs/config.toml)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.StringVar(&g.logFile, "log", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(
		newMountCmd(g),
		newLsCmd(g),
		newCatCmd(g),
		newPutCmd(g),
		newTouchCmd(g),
		newRmCmd(g),
		newMvCmd(g),
		newStatCmd(g),
		newTruncateCmd(g),
		newCompactCmd(g),
		newFsckCmd(g),
		newSumCmd(g),
		newDfCmd(g),
		newStatusCmd(g),
		newExportCmd(g),
		newImportCmd(g),
		newDocsCmd(),
	)
	return rootCmd
}

// setup loads the config file, applies its defaults and configures logging.
func (g *globals) setup(cmd *cobra.Command) error {
	var err error
	if g.configPath != "" {
		g.cfg, err = config.LoadFile(g.configPath)
	} else {
		g.cfg, err = config.Load()
	}
	if err != nil {
		return usageError(fmt.Errorf("load config: %w", err))
	}
	g.store.applyConfigDefaults(cmd, g.cfg.Store)
	if !cmd.Flags().Changed("bwlimit") && g.cfg.Compaction.BWLimit != nil {
		if err := g.store.bwLimit.Set(*g.cfg.Compaction.BWLimit); err != nil {
			return usageError(fmt.Errorf("config compaction.bwlimit: %w", err))
		}
	}

	logLevel := slog.LevelWarn
	if g.verbose {
		logLevel = slog.LevelDebug
	} else if !g.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: logLevel})
	var logHandler slog.Handler = textHandler
	if g.logFile != "" {
		lf, lfErr := os.Create(g.logFile)
		if lfErr != nil {
			return usageError(fmt.Errorf("open log file: %w", lfErr))
		}
		g.closer = append(g.closer, func() { lf.Close() })
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	g.logger = slog.New(logHandler)
	return nil
}

func (g *globals) cleanup() {
	for i := len(g.closer) - 1; i >= 0; i-- {
		g.closer[i]()
	}
}

// exitError carries a process exit code: 1 for a failed operation, 2 for a
// usage error or a filesystem that could not be opened or mounted.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func opError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 1, err: err}
}

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 2, err: err}
}
