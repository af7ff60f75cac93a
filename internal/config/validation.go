package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	builderrors "github.com/conneroisu/assetstage/internal/errors"
)

// Validate checks structural invariants of the configuration. It does not
// touch the filesystem; see CheckPaths for that.
func Validate(config *Config) error {
	if err := validateOutputs(config); err != nil {
		return fmt.Errorf("folders config: %w", err)
	}
	if err := validateSources(config); err != nil {
		return fmt.Errorf("sources config: %w", err)
	}
	if err := validateMinify(&config.Minify); err != nil {
		return fmt.Errorf("minify config: %w", err)
	}
	if err := validateRevision(&config.Revision); err != nil {
		return fmt.Errorf("revision config: %w", err)
	}
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateWatch(config); err != nil {
		return fmt.Errorf("development config: %w", err)
	}
	return nil
}

// validateOutputs keeps every directory the pipeline cleans or overwrites
// away from the project root, the source inputs and each other.
func validateOutputs(config *Config) error {
	outputs := []struct{ role, dir string }{
		{"staging", config.Folders.Staging},
		{"minified", config.Folders.Minified},
		{"production", config.Folders.Production},
		{"publish", config.Publish.Dir},
	}
	root := absPath(config.Root)
	inputs := inputPaths(config)

	resolved := make([]string, 0, len(outputs))
	for _, out := range outputs {
		if out.dir == "" {
			return fmt.Errorf("%s folder is empty", out.role)
		}
		if !filepath.IsAbs(out.dir) && strings.Contains(filepath.Clean(out.dir), "..") {
			return fmt.Errorf("%s folder contains path traversal: %s", out.role, out.dir)
		}

		dir := absPath(config.ResolvePath(out.dir))
		if within(dir, root) {
			return fmt.Errorf("%s folder %s contains the project root", out.role, out.dir)
		}
		for _, input := range inputs {
			if within(dir, absPath(config.ResolvePath(input))) {
				return fmt.Errorf("%s folder %s contains source path %s", out.role, out.dir, input)
			}
		}
		for j, other := range resolved {
			switch {
			case dir == other:
				return fmt.Errorf("%s and %s folders are the same directory %s", outputs[j].role, out.role, out.dir)
			case within(dir, other), within(other, dir):
				return fmt.Errorf("%s and %s folders overlap: %s, %s", outputs[j].role, out.role, outputs[j].dir, out.dir)
			}
		}
		resolved = append(resolved, dir)
	}
	return nil
}

// inputPaths returns the root-relative paths the pipeline reads: the static
// base of every source glob, the library files and the package file.
func inputPaths(config *Config) []string {
	var paths []string
	for _, class := range config.Sources {
		for _, pattern := range class.Globs {
			base, _ := doublestar.SplitPattern(pattern)
			paths = append(paths, base)
		}
	}
	for _, lib := range [][]string{config.Libraries.CSS, config.Libraries.JS, config.Libraries.JSMinified} {
		paths = append(paths, lib...)
	}
	if config.PackageFile != "" {
		paths = append(paths, config.PackageFile)
	}
	return paths
}

func absPath(path string) string {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// validateSources enforces the output-name invariant shared by the source
// assembler and the library bundler: both write into the staging root, so
// no two producers may claim the same file.
func validateSources(config *Config) error {
	outputs := map[string]string{
		LibraryCSSBundle:        "libraries",
		LibraryJSBundle:         "libraries",
		LibraryJSMinifiedBundle: "libraries",
	}
	names := make(map[string]bool, len(config.Sources))

	for _, class := range config.Sources {
		if class.Name == "" {
			return errors.New("asset class without a name")
		}
		if names[class.Name] {
			return fmt.Errorf("duplicate asset class %q", class.Name)
		}
		names[class.Name] = true

		if !class.Kind.Valid() {
			return fmt.Errorf("class %s: unknown kind %q", class.Name, class.Kind)
		}
		if len(class.Globs) == 0 {
			return fmt.Errorf("class %s: no globs", class.Name)
		}
		for _, pattern := range append(append([]string{}, class.Globs...), class.Exclude...) {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("class %s: invalid glob %q", class.Name, pattern)
			}
		}

		switch {
		case class.Kind.Concatenates():
			if class.Output == "" {
				return fmt.Errorf("class %s: %s classes need an output bundle name", class.Name, class.Kind)
			}
			if owner, dup := outputs[class.Output]; dup {
				return fmt.Errorf("class %s: output %s already produced by %s", class.Name, class.Output, owner)
			}
			outputs[class.Output] = class.Name
		case class.Kind == KindFragment:
			if class.Output == "" || class.IncludeDir == "" {
				return fmt.Errorf("class %s: fragments need output and include_dir", class.Name)
			}
		}
	}
	return nil
}

func validateMinify(minify *MinifyConfig) error {
	seen := make(map[string]bool, len(minify.Artifacts))
	for _, artifact := range minify.Artifacts {
		if artifact.Name == "" {
			return errors.New("artifact without a name")
		}
		if seen[artifact.Name] {
			return fmt.Errorf("duplicate artifact %s", artifact.Name)
		}
		seen[artifact.Name] = true

		if artifact.Kind != KindStyle && artifact.Kind != KindScript {
			return fmt.Errorf("artifact %s: only style and script artifacts are minified, got %q", artifact.Name, artifact.Kind)
		}
		switch artifact.Mode {
		case MinifyModeMinify, MinifyModeCopy:
		case MinifyModeSplit:
			if artifact.Kind != KindScript {
				return fmt.Errorf("artifact %s: split mode applies to script bundles only", artifact.Name)
			}
		default:
			return fmt.Errorf("artifact %s: unknown mode %q", artifact.Name, artifact.Mode)
		}
	}
	for _, pattern := range minify.Copy {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid copy glob %q", pattern)
		}
	}
	return nil
}

func validateRevision(revision *RevisionConfig) error {
	if revision.DigestLength < 4 || revision.DigestLength > 64 {
		return fmt.Errorf("digest_length %d is not in range 4-64", revision.DigestLength)
	}
	for _, ext := range append(append([]string{}, revision.ExemptExtensions...), revision.TextExtensions...) {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	for _, rewrite := range revision.Absolute {
		if rewrite.From == "" || rewrite.To == "" {
			return errors.New("absolute rewrite needs both from and to")
		}
	}
	return nil
}

func validateServer(server *ServerConfig) error {
	// Port 0 lets the system pick, which tests rely on.
	if server.Port < 0 || server.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", server.Port)
	}
	if strings.ContainsAny(server.Host, ";&|$`()<>\"'\\ ") {
		return fmt.Errorf("host %q contains invalid characters", server.Host)
	}
	return nil
}

func validateWatch(config *Config) error {
	for i, rule := range config.Development.Watch {
		if len(rule.Globs) == 0 {
			return fmt.Errorf("watch rule %d has no globs", i)
		}
		for _, name := range rule.Classes {
			if _, ok := config.Class(name); !ok {
				return fmt.Errorf("watch rule %d references unknown class %q", i, name)
			}
		}
	}
	return nil
}

// CheckPaths reports configuration entries that point at nothing on disk:
// library files that do not exist and asset-class globs or priority entries
// that match no file. These are warnings. Missing paths yield empty or
// incomplete bundles, which is permitted; callers decide whether to fail
// (build --strict) or only log them.
func CheckPaths(config *Config) []*builderrors.BuildError {
	var warnings []*builderrors.BuildError

	libraries := []struct {
		bundle string
		paths  []string
	}{
		{LibraryCSSBundle, config.Libraries.CSS},
		{LibraryJSBundle, config.Libraries.JS},
		{LibraryJSMinifiedBundle, config.Libraries.JSMinified},
	}
	for _, lib := range libraries {
		for _, path := range lib.paths {
			if _, err := os.Stat(config.ResolvePath(path)); err != nil {
				warnings = append(warnings, builderrors.NewConfigWarning(lib.bundle,
					fmt.Sprintf("library file %s not found", path)))
			}
		}
	}

	fsys := os.DirFS(config.Root)
	for _, class := range config.Sources {
		var matched []string
		for _, pattern := range class.Globs {
			found, err := doublestar.Glob(fsys, pattern)
			if err != nil {
				continue
			}
			if len(found) == 0 {
				warnings = append(warnings, builderrors.NewConfigWarning(class.Name,
					fmt.Sprintf("glob %s matches no files", pattern)))
			}
			matched = append(matched, found...)
		}
		for _, entry := range class.Order {
			pattern := strings.TrimPrefix(entry, "!")
			if !matchesAny(pattern, matched) {
				warnings = append(warnings, builderrors.NewConfigWarning(class.Name,
					fmt.Sprintf("order entry %s matches no source file", entry)))
			}
		}
	}
	return warnings
}

func matchesAny(pattern string, paths []string) bool {
	for _, path := range paths {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		// Order entries may be relative to the glob base.
		if strings.HasSuffix(path, "/"+pattern) {
			return true
		}
	}
	return false
}
