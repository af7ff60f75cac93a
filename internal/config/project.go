package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// LoadProject reads project metadata from a package.json style file.
// Comments and trailing commas are tolerated.
func LoadProject(path string) (Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Project{}, err
	}

	var project Project
	if err := json.Unmarshal(jsonc.ToJSON(data), &project); err != nil {
		return Project{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return project, nil
}

// ResolvePath joins a config-relative path onto Root. Absolute paths are
// returned unchanged.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Root, filepath.FromSlash(path))
}

// StagingDir returns the resolved staging directory.
func (c *Config) StagingDir() string { return c.ResolvePath(c.Folders.Staging) }

// MinifiedDir returns the resolved minified directory.
func (c *Config) MinifiedDir() string { return c.ResolvePath(c.Folders.Minified) }

// ProductionDir returns the resolved production directory.
func (c *Config) ProductionDir() string { return c.ResolvePath(c.Folders.Production) }

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
