// Package library concatenates third-party library files into the three
// vendor bundles written to staging. Every source is preceded by a one-line
// attribution header naming the file.
package library

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/logging"
)

// Bundle describes one vendor bundle.
type Bundle struct {
	Name string
	// Header is a format string receiving the source's base name.
	Header string
	// Trailer is appended after each source's content.
	Trailer string
	Sources []string
}

// Bundles returns the vendor bundles for the configured library lists.
func Bundles(libs config.LibrariesConfig) []Bundle {
	return []Bundle{
		{Name: config.LibraryCSSBundle, Header: config.LibraryCSSHeader, Sources: libs.CSS},
		{Name: config.LibraryJSBundle, Header: config.LibraryJSHeader, Sources: libs.JS},
		{Name: config.LibraryJSMinifiedBundle, Header: config.LibraryJSMinifiedHeader, Trailer: "\n", Sources: libs.JSMinified},
	}
}

// Concat reads the bundle sources through read and joins them, each behind
// its attribution header, with a newline between sources.
func Concat(b Bundle, read func(path string) ([]byte, error)) ([]byte, error) {
	var buf bytes.Buffer
	for i, src := range b.Sources {
		data, err := read(src)
		if err != nil {
			return nil, builderrors.NewIOError("read library", src, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, b.Header, filepath.Base(src))
		buf.WriteByte('\n')
		buf.Write(data)
		buf.WriteString(b.Trailer)
	}
	return buf.Bytes(), nil
}

// Bundler writes the vendor bundles into the staging directory.
type Bundler struct {
	config *config.Config
	logger logging.Logger
}

// NewBundler creates a bundler for config.
func NewBundler(cfg *config.Config, logger logging.Logger) *Bundler {
	return &Bundler{
		config: cfg,
		logger: logger.WithComponent("library"),
	}
}

// Run builds all three bundles concurrently. A failing bundle does not stop
// its siblings; the joined failures are returned after all have finished.
// It returns the staging-relative names of the bundles written.
func (b *Bundler) Run(ctx context.Context) ([]string, error) {
	bundles := Bundles(b.config.Libraries)
	collector := builderrors.NewErrorCollector()
	written := make([]string, len(bundles))

	var g errgroup.Group
	for i, bundle := range bundles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				collector.AddError(err)
				return nil
			}
			if err := b.write(ctx, bundle); err != nil {
				collector.AddError(err)
				return nil
			}
			written[i] = bundle.Name
			return nil
		})
	}
	_ = g.Wait()

	var names []string
	for _, name := range written {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	if len(names) > 0 {
		if err := fsutil.TouchMarker(b.config.StagingDir(), config.MarkerFile); err != nil {
			collector.AddError(builderrors.NewIOError("write marker", config.MarkerFile, err))
		}
	}
	return names, collector.Err()
}

func (b *Bundler) write(ctx context.Context, bundle Bundle) error {
	data, err := Concat(bundle, func(path string) ([]byte, error) {
		return os.ReadFile(b.config.ResolvePath(path))
	})
	if err != nil {
		b.logger.Error(ctx, err, "Library bundle failed", "bundle", bundle.Name)
		return err
	}

	dest := filepath.Join(b.config.StagingDir(), bundle.Name)
	if err := fsutil.WriteFile(dest, data); err != nil {
		return builderrors.NewIOError("write bundle", dest, err)
	}

	b.logger.Info(ctx, "Library bundle written",
		"bundle", bundle.Name,
		"sources", len(bundle.Sources),
		"bytes", len(data))
	return nil
}

// Section is one attributed source recovered from a bundle.
type Section struct {
	Name    string
	Content []byte
}

// Split is the inverse of Concat: it cuts a bundle back into its sources
// on the attribution header lines of b. Content before the first header is
// ignored.
func Split(data []byte, b Bundle) []Section {
	prefix, suffix, _ := strings.Cut(b.Header, "%s")

	type header struct {
		lineStart, contentStart int
		name                    string
	}
	var headers []header
	for pos := 0; pos < len(data); {
		lineEnd := len(data)
		if i := bytes.IndexByte(data[pos:], '\n'); i >= 0 {
			lineEnd = pos + i
		}
		line := string(data[pos:lineEnd])
		if len(line) >= len(prefix)+len(suffix) && strings.HasPrefix(line, prefix) && strings.HasSuffix(line, suffix) {
			headers = append(headers, header{
				lineStart:    pos,
				contentStart: min(lineEnd+1, len(data)),
				name:         line[len(prefix) : len(line)-len(suffix)],
			})
		}
		pos = lineEnd + 1
	}

	sections := make([]Section, len(headers))
	for i, h := range headers {
		end := len(data)
		if i+1 < len(headers) {
			// Concat separates sources with one newline.
			end = max(headers[i+1].lineStart-1, h.contentStart)
		}
		content := bytes.TrimSuffix(data[h.contentStart:end], []byte(b.Trailer))
		sections[i] = Section{Name: h.name, Content: content}
	}
	return sections
}
