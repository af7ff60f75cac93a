// Package revision implements stage 3. Every non-exempt file of the
// minified tree is renamed after a digest of its content, references in
// text files are rewritten to the new names, and the result is written to
// the production directory.
package revision

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/logging"
)

// Asset is one file of the revisioned tree.
type Asset struct {
	// Path is the original path relative to the tree root.
	Path   string `json:"path"`
	Digest string `json:"digest"`
	// Revised is the production path; equal to Path for exempt files.
	Revised string `json:"revised"`
	Exempt  bool   `json:"exempt,omitempty"`
	Size    int64  `json:"size"`
}

// Result is the outcome of a stage-3 run.
type Result struct {
	Assets     []Asset
	References ReferenceMap
}

// Outputs returns the production paths in lexical order.
func (r *Result) Outputs() []string {
	out := make([]string, len(r.Assets))
	for i, a := range r.Assets {
		out[i] = a.Revised
	}
	sort.Strings(out)
	return out
}

// Revisioner runs stage 3.
type Revisioner struct {
	config *config.Config
	logger logging.Logger
}

// New creates a revisioner.
func New(cfg *config.Config, logger logging.Logger) *Revisioner {
	return &Revisioner{
		config: cfg,
		logger: logger.WithComponent("revision"),
	}
}

// Run revisions the minified tree into the production directory. Digests
// are computed in parallel; rewriting starts only once every digest is
// known and the reference map is frozen.
func (r *Revisioner) Run(ctx context.Context) (*Result, error) {
	src := r.config.MinifiedDir()
	files, err := fsutil.ListFiles(src)
	if err != nil {
		return nil, builderrors.NewIOError("read minified", src, err)
	}

	assets, err := r.digestAll(ctx, src, files)
	if err != nil {
		return nil, err
	}

	refs, err := BuildReferenceMap(assets)
	if err != nil {
		return nil, &builderrors.BuildError{
			Kind:     builderrors.KindStage,
			Stage:    "revision",
			Message:  "building reference map",
			Severity: builderrors.ErrorSeverityError,
			Err:      err,
		}
	}

	dest := r.config.ProductionDir()
	if err := fsutil.CleanDir(dest); err != nil {
		return nil, builderrors.NewIOError("clean", dest, err)
	}
	if err := r.writeAll(ctx, src, dest, assets, refs); err != nil {
		return nil, err
	}

	r.logger.Info(ctx, "Revisioned tree written",
		"files", len(assets),
		"renamed", len(refs),
		"dest", dest)
	return &Result{Assets: assets, References: refs}, nil
}

func (r *Revisioner) digestAll(ctx context.Context, root string, files []string) ([]Asset, error) {
	n := r.config.Revision.DigestLength
	if n <= 0 {
		n = DefaultDigestLength
	}

	assets := make([]Asset, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rel := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				return builderrors.NewIOError("read", rel, err)
			}
			digest := Digest(data, n)
			asset := Asset{Path: rel, Digest: digest, Revised: rel, Size: int64(len(data))}
			if r.exempt(rel) {
				asset.Exempt = true
			} else {
				asset.Revised = RevisionedName(rel, digest)
			}
			assets[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *Revisioner) writeAll(ctx context.Context, src, dest string, assets []Asset, refs ReferenceMap) error {
	rewriter := NewRewriter(refs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, asset := range assets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			from := filepath.Join(src, filepath.FromSlash(asset.Path))
			to := filepath.Join(dest, filepath.FromSlash(asset.Revised))
			if !r.isText(asset.Path) {
				if err := fsutil.CopyFile(from, to); err != nil {
					return builderrors.NewIOError("copy", asset.Path, err)
				}
				return nil
			}

			data, err := os.ReadFile(from)
			if err != nil {
				return builderrors.NewIOError("read", asset.Path, err)
			}
			data = rewriter.Rewrite(asset.Path, data)
			data = RewriteAbsolute(data, r.config.Revision.Absolute)
			if err := fsutil.WriteFile(to, data); err != nil {
				return builderrors.NewIOError("write production", asset.Revised, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Revisioner) exempt(rel string) bool {
	return hasExtension(rel, r.config.Revision.ExemptExtensions)
}

func (r *Revisioner) isText(rel string) bool {
	return hasExtension(rel, r.config.Revision.TextExtensions)
}

func hasExtension(rel string, exts []string) bool {
	ext := strings.ToLower(path.Ext(rel))
	return ext != "" && slices.ContainsFunc(exts, func(e string) bool {
		return strings.EqualFold(e, ext)
	})
}
