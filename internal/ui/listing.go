package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/bamsammich/flatfs/internal/vfs"
)

// ListOptions configures RenderListing and RenderUsage.
type ListOptions struct {
	// Long adds a size column and a totals line.
	Long  bool
	Color bool
	// Bytes prints exact byte counts instead of human sizes.
	Bytes bool
	Width int
}

func (o ListOptions) size(n int64) string {
	if o.Bytes {
		return fmt.Sprintf("%d", n)
	}
	return FormatBytes(n)
}

// RenderListing writes one line per file in the given order.
func RenderListing(w io.Writer, files []vfs.FileInfo, opts ListOptions) error {
	p := painter(opts.Color)
	if !opts.Long {
		for _, f := range files {
			if _, err := fmt.Fprintln(w, p.paint(styleName, f.Name)); err != nil {
				return err
			}
		}
		return nil
	}

	sizes := make([]string, len(files))
	col := 0
	var total int64
	for i, f := range files {
		sizes[i] = opts.size(f.Size)
		col = max(col, len(sizes[i]))
		total += f.Size
	}
	for i, f := range files {
		size := strings.Repeat(" ", col-len(sizes[i])) + sizes[i]
		style := styleSize
		if f.Size == 0 {
			style = styleEmpty
		}
		if _, err := fmt.Fprintf(w, "%s  %s\n", p.paint(style, size), p.paint(styleName, f.Name)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s\n", p.paint(styleHeader,
		fmt.Sprintf("%s files, %s", FormatCount(int64(len(files))), opts.size(total))))
	return err
}

// RenderUsage writes a storage usage report.
func RenderUsage(w io.Writer, u vfs.Usage, opts ListOptions) error {
	p := painter(opts.Color)
	barWidth := 40
	if opts.Width > 0 && opts.Width-20 < barWidth {
		barWidth = max(10, opts.Width-20)
	}

	rows := [][2]string{
		{"files", FormatCount(int64(u.Files))},
		{"entries", FormatCount(int64(u.Entries))},
		{"live", p.paint(styleLive, opts.size(u.LiveBytes))},
		{"dead", p.paint(styleDead, fmt.Sprintf("%s (%s)", opts.size(u.DeadBytes), FormatPercent(u.DeadRatio())))},
		{"data", opts.size(u.DataBytes)},
		{"metadata", opts.size(u.MetaBytes)},
		{"journal", opts.size(u.JournalBytes)},
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", p.paint(styleHeader, fmt.Sprintf("%-9s", r[0])), r[1])
	}
	bar := []rune(UsageBar(u.DataBytes-u.DeadBytes, u.DataBytes, barWidth))
	split := len(bar)
	for i, r := range bar {
		if r == '□' {
			split = i
			break
		}
	}
	fmt.Fprintf(&b, "%s %s%s\n", p.paint(styleHeader, fmt.Sprintf("%-9s", "usage")),
		p.paint(styleLive, string(bar[:split])), p.paint(styleDead, string(bar[split:])))
	_, err := io.WriteString(w, b.String())
	return err
}
