// Package internal contains the core implementation packages for assetstage.
//
// # Package Organization
//
// The internal packages are organized by pipeline stage and concern:
//
//   - config: Configuration loading, defaults and validation
//   - transform: Named per-file transforms (style compile, markup include, lint)
//   - assemble: Stage 1 source assembly into the staging folder
//   - library: Third-party library bundles written next to the assembled sources
//   - minify: Stage 2 minification with banners
//   - revision: Stage 3 content digests and reference rewriting
//   - pipeline: Stage sequencing, skip-on-failure and per-stage callbacks
//   - devloop: Watch rules, serialized rebuilds, preview server and live reload
//   - watcher: Debounced file system monitoring
//   - publish: Copying the production tree to the deploy folder
//   - report: Size reports printed after each stage
//   - errors: Build error taxonomy and collection
//   - logging, metrics, version, fsutil: Ambient support
//
// # Data Flow
//
// Each stage reads only the previous stage's folder and writes only its own:
//
//	sources + libraries -> build/step1-staging -> build/step2-minified -> build/step3-production
//
// A stage never starts after its predecessor failed; it is reported as
// skipped instead.
package internal
