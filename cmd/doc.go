// # Available Commands
//
//   - init: write a default .assetstage.yml
//   - build: stage 1, assemble sources and libraries into staging
//   - minify: stage 2, minify staging into the minified folder
//   - revision: stage 3, content-hash names into the production folder
//   - release: all three stages with barriers between them
//   - watch: incremental rebuilds, preview server and live reload
//   - publish: copy production into the deploy folder
//   - version: build information
//
// # Command Examples
//
//	assetstage init
//	assetstage release --gzip
//	assetstage watch --port 8080
//	assetstage publish --force
package cmd
