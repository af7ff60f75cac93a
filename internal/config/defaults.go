package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultStagingDir    = "build/step1-staging"
	DefaultMinifiedDir   = "build/step2-minified"
	DefaultProductionDir = "build/step3-production"

	// MarkerFile is rewritten in the staging root after every stage-1 write.
	MarkerFile = ".stage-complete"
)

// Default returns the configuration of a conventional project layout:
// sources under src/web, libraries under node_modules.
func Default() *Config {
	return &Config{
		Root:        ".",
		PackageFile: "package.json",
		Folders: FoldersConfig{
			Staging:    DefaultStagingDir,
			Minified:   DefaultMinifiedDir,
			Production: DefaultProductionDir,
		},
		Sources:   DefaultSources(),
		Libraries: DefaultLibraries(),
		Minify:    DefaultMinify(),
		Revision:  DefaultRevision(),
		Publish:   PublishConfig{Dir: "docs"},
		Server:    ServerConfig{Host: "localhost", Port: 3000},
		Development: DevelopmentConfig{
			Debounce:   150 * time.Millisecond,
			LiveReload: true,
			Watch:      DefaultWatchRules(),
		},
	}
}

// DefaultSources returns the stage-1 asset classes.
func DefaultSources() []AssetClass {
	return []AssetClass{
		{
			Name:       "graphics",
			Kind:       KindGraphics,
			Globs:      []string{"src/web/assets/graphics/**/*"},
			Transforms: []string{"identity"},
			OutDir:     "graphics",
		},
		{
			Name:       "css",
			Kind:       KindStyle,
			Globs:      []string{"src/web/**/*.less"},
			Order:      []string{"src/web/css/base.less"},
			Transforms: []string{"style.compile"},
			Output:     "{name}.css",
		},
		{
			Name:          "widgets",
			Kind:          KindFragment,
			Globs:         []string{"src/web/widgets/**/*.html"},
			Output:        "widgets.gen.html",
			IncludeDir:    "src/web/html/generated",
			IncludePrefix: "../../widgets",
		},
		{
			Name:       "html",
			Kind:       KindMarkup,
			Globs:      []string{"src/web/root/**/*.html"},
			Transforms: []string{"markup.include", "markup.lint", "markup.placeholder"},
		},
		{
			Name:   "js",
			Kind:   KindScript,
			Globs:  []string{"src/web/**/*.js"},
			Order:  []string{"js/config.js", "!js/setup.js"},
			Output: "{name}.js",
		},
	}
}

// DefaultLibraries returns the third-party files bundled by the library bundler.
func DefaultLibraries() LibrariesConfig {
	return LibrariesConfig{
		CSS: []string{
			"node_modules/web-ignition/dist/reset.min.css",
			"node_modules/dna.js/dist/dna.css",
		},
		JS: []string{
			"node_modules/moment/moment.js",
		},
		JSMinified: []string{
			"node_modules/jquery/dist/jquery.min.js",
			"node_modules/dna.js/dist/dna.min.js",
			"node_modules/web-ignition/dist/library.min.js",
		},
	}
}

// DefaultMinify returns the stage-2 artifacts.
func DefaultMinify() MinifyConfig {
	return MinifyConfig{
		Artifacts: []MinifyArtifact{
			{Name: LibraryCSSBundle, Kind: KindStyle, Mode: MinifyModeMinify,
				Header: "/*! Bundle: 3rd party styles */\n\n", Footer: "\n"},
			{Name: LibraryJSBundle, Kind: KindScript, Mode: MinifyModeSplit,
				Header: "//! Bundle: 3rd party libraries\n", Footer: "\n"},
			{Name: LibraryJSMinifiedBundle, Kind: KindScript, Mode: MinifyModeCopy,
				Header: "//! Bundle: 3rd party libraries (minified)\n\n"},
			{Name: "{name}.css", Kind: KindStyle, Mode: MinifyModeMinify,
				Header: "/*! {banner} */\n"},
			{Name: "{name}.js", Kind: KindScript, Mode: MinifyModeMinify,
				Header: "//! {banner}\n", Footer: "\n"},
		},
		Copy: []string{"graphics/**/*", "*.html"},
	}
}

// DefaultRevision exempts markup documents so their public paths stay stable.
func DefaultRevision() RevisionConfig {
	return RevisionConfig{
		ExemptExtensions: []string{".html"},
		TextExtensions:   []string{".html", ".css", ".js", ".svg", ".json", ".txt", ".xml", ".webmanifest"},
		DigestLength:     8,
		Absolute: []AbsoluteRewrite{
			{From: "./graphics/logo-card", To: "{homepage}/graphics/logo-card"},
		},
	}
}

// DefaultWatchRules maps source changes to the stage-1 classes they rebuild.
// Generated include files are excluded so regenerating them does not
// retrigger the markup rebuild.
func DefaultWatchRules() []WatchRule {
	return []WatchRule{
		{Globs: []string{"src/web/**/*.{jpg,jpeg,png,gif,svg,ico,webp}"}, Classes: []string{"graphics"}},
		{Globs: []string{"src/web/**/*.less"}, Classes: []string{"css"}},
		{Globs: []string{"src/web/**/*.js"}, Classes: []string{"js"}},
		{Globs: []string{"src/web/**/*.html"}, Exclude: []string{"**/*.gen.html"}, Classes: []string{"widgets", "html"}},
	}
}

// applyDefaults fills every unset section from Default.
func applyDefaults(config *Config, v *viper.Viper) {
	defaults := Default()

	if config.Folders.Staging == "" {
		config.Folders.Staging = defaults.Folders.Staging
	}
	if config.Folders.Minified == "" {
		config.Folders.Minified = defaults.Folders.Minified
	}
	if config.Folders.Production == "" {
		config.Folders.Production = defaults.Folders.Production
	}

	if len(config.Sources) == 0 {
		config.Sources = defaults.Sources
	}
	if !v.IsSet("libraries") {
		config.Libraries = defaults.Libraries
	}
	if len(config.Minify.Artifacts) == 0 {
		config.Minify.Artifacts = defaults.Minify.Artifacts
	}
	if len(config.Minify.Copy) == 0 {
		config.Minify.Copy = defaults.Minify.Copy
	}

	if len(config.Revision.ExemptExtensions) == 0 {
		config.Revision.ExemptExtensions = defaults.Revision.ExemptExtensions
	}
	if len(config.Revision.TextExtensions) == 0 {
		config.Revision.TextExtensions = defaults.Revision.TextExtensions
	}
	if config.Revision.DigestLength == 0 {
		config.Revision.DigestLength = defaults.Revision.DigestLength
	}
	if !v.IsSet("revision.absolute") {
		config.Revision.Absolute = defaults.Revision.Absolute
	}

	if config.Publish.Dir == "" {
		config.Publish.Dir = defaults.Publish.Dir
	}
	if config.Server.Host == "" {
		config.Server.Host = defaults.Server.Host
	}
	if config.Server.Port == 0 && !v.IsSet("server.port") {
		config.Server.Port = defaults.Server.Port
	}

	if config.Development.Debounce == 0 {
		config.Development.Debounce = defaults.Development.Debounce
	}
	if !v.IsSet("development.live_reload") {
		config.Development.LiveReload = true
	}
	if len(config.Development.Watch) == 0 {
		config.Development.Watch = defaults.Development.Watch
	}
}
