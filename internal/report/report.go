// Package report prints the per-file size summary shown after each stage.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Entry is the size of one output file.
type Entry struct {
	Path     string
	Size     int64
	GzipSize int64
}

// Measure reads the listed files below dir. GzipSize is only computed when
// withGzip is set.
func Measure(dir string, files []string, withGzip bool) ([]Entry, error) {
	entries := make([]Entry, 0, len(files))
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("measuring %s: %w", rel, err)
		}
		entry := Entry{Path: rel, Size: int64(len(data))}
		if withGzip {
			if entry.GzipSize, err = gzipSize(data); err != nil {
				return nil, fmt.Errorf("compressing %s: %w", rel, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func gzipSize(data []byte) (int64, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	if _, err := zw.Write(data); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// Options configures rendering.
type Options struct {
	NoColor bool
	Gzip    bool
}

// Render writes a size table for entries under title.
func Render(w io.Writer, title string, entries []Entry, opts *Options) {
	if opts == nil {
		opts = &Options{}
	}
	p := message.NewPrinter(language.English)

	bold := color.New(color.Bold, color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	if opts.NoColor {
		bold.DisableColor()
		gray.DisableColor()
		green.DisableColor()
	}

	bold.Fprintln(w, title)

	width := 0
	for _, e := range entries {
		width = max(width, len(e.Path))
	}

	var total, totalGzip int64
	for _, e := range entries {
		total += e.Size
		totalGzip += e.GzipSize

		fmt.Fprintf(w, "  %s  ", padRight(e.Path, width))
		green.Fprint(w, p.Sprintf("%d B", e.Size))
		if opts.Gzip {
			gray.Fprint(w, p.Sprintf(" (gzipped %d B)", e.GzipSize))
		}
		fmt.Fprintln(w)
	}

	summary := p.Sprintf("  %d files, %d B", len(entries), total)
	if opts.Gzip {
		summary += p.Sprintf(" (gzipped %d B)", totalGzip)
	}
	gray.Fprintln(w, summary)
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
