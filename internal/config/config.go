// Package config provides configuration management for assetstage using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// The configuration describes the asset classes assembled in stage 1, the
// third-party library lists, the artifacts minified in stage 2, the
// revisioning rules of stage 3, and the dev loop. It is loaded once per run
// and then passed read-only into every stage.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Kind is the asset class kind.
type Kind string

const (
	KindGraphics Kind = "graphics"
	KindStyle    Kind = "style"
	KindMarkup   Kind = "markup"
	KindScript   Kind = "script"
	KindFragment Kind = "markup-fragment"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindGraphics, KindStyle, KindMarkup, KindScript, KindFragment:
		return true
	}
	return false
}

// Concatenates reports whether files of this kind are joined into one bundle.
func (k Kind) Concatenates() bool {
	return k == KindStyle || k == KindScript
}

type Config struct {
	Root        string            `mapstructure:"root" yaml:"root"`
	PackageFile string            `mapstructure:"package_file" yaml:"package_file"`
	Project     Project           `mapstructure:"project" yaml:"project,omitempty"`
	Folders     FoldersConfig     `mapstructure:"folders" yaml:"folders"`
	Sources     []AssetClass      `mapstructure:"sources" yaml:"sources"`
	Libraries   LibrariesConfig   `mapstructure:"libraries" yaml:"libraries"`
	Minify      MinifyConfig      `mapstructure:"minify" yaml:"minify"`
	Revision    RevisionConfig    `mapstructure:"revision" yaml:"revision"`
	Publish     PublishConfig     `mapstructure:"publish" yaml:"publish"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
}

// Project is the package metadata used for banners and markup context.
type Project struct {
	Name        string `mapstructure:"name" yaml:"name" json:"name"`
	Version     string `mapstructure:"version" yaml:"version" json:"version"`
	Description string `mapstructure:"description" yaml:"description" json:"description"`
	Homepage    string `mapstructure:"homepage" yaml:"homepage" json:"homepage"`
	License     string `mapstructure:"license" yaml:"license" json:"license"`
}

// Banner renders the single-line bundle banner.
func (p Project) Banner() string {
	return fmt.Sprintf("%s v%s ~~ %s ~~ %s License", p.Name, p.Version, p.Homepage, p.License)
}

type FoldersConfig struct {
	Staging    string `mapstructure:"staging" yaml:"staging"`
	Minified   string `mapstructure:"minified" yaml:"minified"`
	Production string `mapstructure:"production" yaml:"production"`
}

// AssetClass is one group of source files assembled in stage 1.
type AssetClass struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	Kind       Kind     `mapstructure:"kind" yaml:"kind"`
	Globs      []string `mapstructure:"globs" yaml:"globs"`
	Exclude    []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Order      []string `mapstructure:"order" yaml:"order,omitempty"`
	Transforms []string `mapstructure:"transforms" yaml:"transforms,omitempty"`
	// Output is the bundle name for concatenating kinds and for fragments.
	Output string `mapstructure:"output" yaml:"output,omitempty"`
	// OutDir is the staging subdirectory for per-file kinds.
	OutDir string `mapstructure:"out_dir" yaml:"out_dir,omitempty"`
	// IncludeDir and IncludePrefix apply to markup-fragment classes only.
	IncludeDir    string `mapstructure:"include_dir" yaml:"include_dir,omitempty"`
	IncludePrefix string `mapstructure:"include_prefix" yaml:"include_prefix,omitempty"`
}

type LibrariesConfig struct {
	CSS        []string `mapstructure:"css" yaml:"css"`
	JS         []string `mapstructure:"js" yaml:"js"`
	JSMinified []string `mapstructure:"js_minified" yaml:"js_minified"`
}

// Library bundle names and their attribution header prefixes.
const (
	LibraryCSSBundle        = "libraries.css"
	LibraryJSBundle         = "libraries.js"
	LibraryJSMinifiedBundle = "libraries.dist.js"

	LibraryCSSHeader        = "/*! 3rd party style: %s */"
	LibraryJSHeader         = "//! 3rd party library: %s"
	LibraryJSMinifiedHeader = "//! 3rd party library (minified): %s"
)

// MinifyMode selects how a stage-2 artifact is processed.
type MinifyMode string

const (
	MinifyModeMinify MinifyMode = "minify"
	// MinifyModeSplit minifies each attributed library section separately.
	MinifyModeSplit MinifyMode = "split"
	MinifyModeCopy  MinifyMode = "copy"
)

type MinifyArtifact struct {
	Name   string     `mapstructure:"name" yaml:"name"`
	Kind   Kind       `mapstructure:"kind" yaml:"kind"`
	Mode   MinifyMode `mapstructure:"mode" yaml:"mode"`
	Header string     `mapstructure:"header" yaml:"header"`
	Footer string     `mapstructure:"footer" yaml:"footer,omitempty"`
}

type MinifyConfig struct {
	Artifacts []MinifyArtifact `mapstructure:"artifacts" yaml:"artifacts"`
	// Copy lists staging globs copied byte-for-byte.
	Copy []string `mapstructure:"copy" yaml:"copy"`
}

// AbsoluteRewrite is a fixed reference rewritten to an absolute URL after
// revisioning.
type AbsoluteRewrite struct {
	From string `mapstructure:"from" yaml:"from"`
	To   string `mapstructure:"to" yaml:"to"`
}

type RevisionConfig struct {
	ExemptExtensions []string          `mapstructure:"exempt_extensions" yaml:"exempt_extensions"`
	TextExtensions   []string          `mapstructure:"text_extensions" yaml:"text_extensions"`
	DigestLength     int               `mapstructure:"digest_length" yaml:"digest_length"`
	Absolute         []AbsoluteRewrite `mapstructure:"absolute" yaml:"absolute"`
}

type PublishConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	CNAME string `mapstructure:"cname" yaml:"cname"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// WatchRule maps changed source paths to the stage-1 classes they rebuild.
type WatchRule struct {
	Globs   []string `mapstructure:"globs" yaml:"globs"`
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
	Classes []string `mapstructure:"classes" yaml:"classes"`
}

type DevelopmentConfig struct {
	Debounce   time.Duration `mapstructure:"debounce" yaml:"debounce"`
	LiveReload bool          `mapstructure:"live_reload" yaml:"live_reload"`
	Watch      []WatchRule   `mapstructure:"watch" yaml:"watch"`
}

// Class returns the asset class with the given name.
func (c *Config) Class(name string) (AssetClass, bool) {
	for _, class := range c.Sources {
		if class.Name == name {
			return class, true
		}
	}
	return AssetClass{}, false
}

// Expand substitutes project placeholders in s: {name}, {version},
// {homepage}, {license} and {banner}.
func (c *Config) Expand(s string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	r := strings.NewReplacer(
		"{name}", c.Project.Name,
		"{version}", c.Project.Version,
		"{homepage}", c.Project.Homepage,
		"{license}", c.Project.License,
		"{banner}", c.Project.Banner(),
	)
	return r.Replace(s)
}

// Host returns the host name of the project homepage.
func (c *Config) Host() string {
	u, err := url.Parse(c.Project.Homepage)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Load reads the configuration bound in the global viper instance, fills
// project metadata from the package file, applies defaults, expands
// placeholders and validates the result.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if config.Root == "" {
		config.Root = "."
	}
	if config.PackageFile == "" {
		config.PackageFile = "package.json"
	}

	project, err := LoadProject(config.ResolvePath(config.PackageFile))
	if err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("failed to read project metadata: %w", err)
	}
	config.Project = mergeProject(project, config.Project)

	applyDefaults(config, v)
	config.expandAll()

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// mergeProject fills fields of base with explicit overrides.
func mergeProject(base, override Project) Project {
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Version != "" {
		base.Version = override.Version
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	if override.Homepage != "" {
		base.Homepage = override.Homepage
	}
	if override.License != "" {
		base.License = override.License
	}
	return base
}

func (c *Config) expandAll() {
	for i := range c.Sources {
		c.Sources[i].Output = c.Expand(c.Sources[i].Output)
	}
	for i := range c.Minify.Artifacts {
		c.Minify.Artifacts[i].Name = c.Expand(c.Minify.Artifacts[i].Name)
		c.Minify.Artifacts[i].Header = c.Expand(c.Minify.Artifacts[i].Header)
		c.Minify.Artifacts[i].Footer = c.Expand(c.Minify.Artifacts[i].Footer)
	}
	for i := range c.Revision.Absolute {
		c.Revision.Absolute[i].To = c.Expand(c.Revision.Absolute[i].To)
	}
	if c.Publish.CNAME == "" {
		c.Publish.CNAME = c.Host()
	}
}
