// Package publish copies the production tree into the deploy directory
// served by the static host.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/conneroisu/assetstage/internal/config"
	builderrors "github.com/conneroisu/assetstage/internal/errors"
	"github.com/conneroisu/assetstage/internal/fsutil"
	"github.com/conneroisu/assetstage/internal/logging"
)

// ErrTargetNotEmpty is returned when the deploy directory holds files and
// overwriting was not requested.
var ErrTargetNotEmpty = errors.New("deploy directory is not empty")

// CNAMEFile is the host binding file written into the deploy directory.
const CNAMEFile = "CNAME"

// Options controls a publish run.
type Options struct {
	Force bool
}

// Publish copies production into the deploy directory and writes the host
// binding file. It returns the deploy-relative paths written.
func Publish(ctx context.Context, cfg *config.Config, opts Options, logger logging.Logger) ([]string, error) {
	logger = logger.WithComponent("publish")
	// The deploy directory is wiped below; never let it reach the project.
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("refusing to publish: %w", err)
	}
	src := cfg.ProductionDir()
	dest := cfg.ResolvePath(cfg.Publish.Dir)

	empty, err := fsutil.IsEmptyDir(src)
	if err != nil {
		return nil, builderrors.NewIOError("read production", src, err)
	}
	if empty {
		return nil, builderrors.NewIOError("read production", src, errors.New("nothing to publish, run release first"))
	}

	empty, err = fsutil.IsEmptyDir(dest)
	if err != nil {
		return nil, builderrors.NewIOError("read deploy", dest, err)
	}
	if !empty {
		if !opts.Force {
			return nil, fmt.Errorf("%w: %s (use --force to replace it)", ErrTargetNotEmpty, dest)
		}
		logger.Warn(ctx, nil, "Replacing deploy directory", "dir", dest)
	}
	if err := fsutil.CleanDir(dest); err != nil {
		return nil, builderrors.NewIOError("clean", dest, err)
	}

	if err := fsutil.CopyDir(src, dest); err != nil {
		return nil, builderrors.NewIOError("copy", dest, err)
	}
	if cfg.Publish.CNAME != "" {
		if err := fsutil.WriteFile(filepath.Join(dest, CNAMEFile), []byte(cfg.Publish.CNAME+"\n")); err != nil {
			return nil, builderrors.NewIOError("write", CNAMEFile, err)
		}
	}

	files, err := fsutil.ListFiles(dest)
	if err != nil {
		return nil, builderrors.NewIOError("list", dest, err)
	}
	logger.Info(ctx, "Published", "dir", dest, "files", len(files), "cname", cfg.Publish.CNAME)
	return files, nil
}
