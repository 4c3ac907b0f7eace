package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/flatfs/internal/archive"
	"github.com/bamsammich/flatfs/internal/ui"
	"github.com/bamsammich/flatfs/internal/vfs"
)

func newExportCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the selected files to a zstd-compressed archive (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
	}
	filters := newFilterFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		chain, err := filters.build()
		if err != nil {
			return err
		}
		ctx, stop := signalContext(cmd)
		defer stop()

		out := g.stdout
		var file *os.File
		if len(args) == 1 && args[0] != "-" {
			file, err = os.Create(args[0])
			if err != nil {
				return usageError(err)
			}
			defer file.Close()
			out = file
		}
		bw := bufio.NewWriterSize(out, 1<<20)

		return g.withFS(func(fs *vfs.FS) error {
			res, err := archive.Export(ctx, fs, bw, archive.ExportOptions{
				Filter: chain,
				Logger: g.logger,
			})
			if err != nil {
				return err
			}
			if err := bw.Flush(); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			if file != nil {
				if err := file.Sync(); err != nil {
					return fmt.Errorf("sync archive: %w", err)
				}
			}
			g.logger.Info("exported",
				"files", res.Files, "bytes", ui.FormatBytes(res.Bytes), "skipped", res.Skipped)
			return nil
		})
	}
	return cmd
}

func newImportCmd(g *globals) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import [FILE]",
		Short: "Recreate files from an archive (stdin by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return usageError(err)
				}
				defer f.Close()
				in = f
			}

			return g.withFS(func(fs *vfs.FS) error {
				res, err := archive.Import(ctx, fs, bufio.NewReaderSize(in, 1<<20), archive.ImportOptions{
					Overwrite: overwrite,
					Logger:    g.logger,
				})
				if err != nil {
					return err
				}
				if err := fs.Flush(); err != nil {
					return err
				}
				g.logger.Info("imported", "files", res.Files, "bytes", ui.FormatBytes(res.Bytes))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace files that already exist")
	return cmd
}
