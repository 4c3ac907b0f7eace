package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/flatfs/internal/ui"
	"github.com/bamsammich/flatfs/internal/vfs"
)

const ioChunk = 256 * 1024

func outputOptions(g *globals) ui.ListOptions {
	opts := ui.ListOptions{Width: 80}
	if f, ok := g.stdout.(*os.File); ok {
		opts.Color = ui.UseColor(f.Fd())
		opts.Width = ui.TermWidth(f.Fd())
	}
	return opts
}

func newLsCmd(g *globals) *cobra.Command {
	var long, bytes bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files in catalog order",
		Args:  cobra.NoArgs,
	}
	filters := newFilterFlags(cmd.Flags())
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show sizes and a totals line")
	cmd.Flags().BoolVar(&bytes, "bytes", false, "show exact byte counts")
	cmd.RunE = func(_ *cobra.Command, _ []string) error {
		chain, err := filters.build()
		if err != nil {
			return err
		}
		return g.withFS(func(fs *vfs.FS) error {
			files, err := fs.List()
			if err != nil {
				return err
			}
			selected := files[:0]
			for _, f := range files {
				if chain.Match(f.Name, f.Size) {
					selected = append(selected, f)
				}
			}
			opts := outputOptions(g)
			opts.Long = long
			opts.Bytes = bytes
			return ui.RenderListing(g.stdout, selected, opts)
		})
	}
	return cmd
}

func newCatCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cat NAME...",
		Short: "Write file contents to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.withFS(func(fs *vfs.FS) error {
				buf := make([]byte, ioChunk)
				for _, name := range args {
					if err := copyOut(fs, name, g.stdout, buf); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func copyOut(fs *vfs.FS, name string, w io.Writer, buf []byte) error {
	if _, err := fs.Attr(name); err != nil {
		return err
	}
	var off int64
	for {
		n, err := fs.Read(name, buf, off)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if n == 0 {
			return nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		off += int64(n)
	}
}

func newPutCmd(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "put NAME [SRC]",
		Short: "Store a file from SRC (or stdin) under NAME",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			var src io.Reader = os.Stdin
			if len(args) == 2 && args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return usageError(err)
				}
				defer f.Close()
				src = f
			}
			return g.withFS(func(fs *vfs.FS) error {
				if err := createOrReset(fs, name, force); err != nil {
					return err
				}
				n, err := copyIn(fs, name, src)
				if err != nil {
					return err
				}
				g.logger.Debug("stored", "name", name, "size", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing file")
	return cmd
}

func createOrReset(fs *vfs.FS, name string, force bool) error {
	err := fs.Create(name)
	if err == nil || !force || !errors.Is(err, vfs.ErrAlreadyExists) {
		return err
	}
	return fs.Truncate(name, 0)
}

func copyIn(fs *vfs.FS, name string, r io.Reader) (int64, error) {
	buf := make([]byte, ioChunk)
	var off int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := fs.Write(name, buf[:n], off); werr != nil {
				return off, werr
			}
			off += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return off, nil
		}
		if err != nil {
			return off, fmt.Errorf("read input: %w", err)
		}
	}
}

func newTouchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "touch NAME...",
		Short: "Create empty files; existing files are left alone",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.withFS(func(fs *vfs.FS) error {
				for _, name := range args {
					if err := fs.Create(name); err != nil && !errors.Is(err, vfs.ErrAlreadyExists) {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newRmCmd(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm NAME...",
		Short: "Remove files (space is reclaimed by compaction)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.withFS(func(fs *vfs.FS) error {
				for _, name := range args {
					err := fs.Unlink(name)
					if err != nil && !(force && errors.Is(err, vfs.ErrNotFound)) {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore missing files")
	return cmd
}

func newMvCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "mv OLD NEW",
		Short: "Rename a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.withFS(func(fs *vfs.FS) error {
				return fs.Rename(args[0], args[1])
			})
		},
	}
}

func newTruncateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate NAME SIZE",
		Short: "Shrink or zero-extend a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			var size sizeValue
			if err := size.Set(args[1]); err != nil {
				return usageError(fmt.Errorf("size: %w", err))
			}
			return g.withFS(func(fs *vfs.FS) error {
				return fs.Truncate(args[0], int64(size))
			})
		},
	}
}

func newStatCmd(g *globals) *cobra.Command {
	var hash bool
	cmd := &cobra.Command{
		Use:   "stat NAME...",
		Short: "Show file attributes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withFS(func(fs *vfs.FS) error {
				for _, name := range args {
					attr, err := fs.Attr(name)
					if err != nil {
						return err
					}
					kind := "regular file"
					if attr.IsDir() {
						kind = "directory"
					}
					fmt.Fprintf(g.stdout, "  name: %s\n  type: %s\n  size: %d (%s)\n  mode: %s\n links: %d\n",
						name, kind, attr.Size, ui.FormatBytes(attr.Size), attr.Mode, attr.Nlink)
					if hash && !attr.IsDir() {
						sum, err := fs.Hash(cmd.Context(), name)
						if err != nil {
							return err
						}
						fmt.Fprintf(g.stdout, "blake3: %s\n", sum)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&hash, "hash", false, "include the BLAKE3 content digest")
	return cmd
}
