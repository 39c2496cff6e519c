// Package deb provides a pure Go library for reading and writing Debian packages
// and for parsing APT Packages indices.
//
// # Design Philosophy
//
// The package is designed to operate primarily in-memory, treating Debian packages
// as structured objects that can be read from, modified, and written to
// streams (io.Reader/io.Writer). This approach eliminates the need for temporary
// files or external system dependencies like 'dpkg', making it
// ideal for serverless environments, CI/CD pipelines, and cross-platform tools.
//
// # Features
//
// Package Management:
//   - Read and parse .deb files from any io.Reader.
//   - Create new packages from scratch or patch existing ones.
//   - Modify control metadata, maintainer scripts, and payload files.
//   - Generate valid .deb archives deterministically.
//
// Index parsing:
//   - Parse Packages index stanzas into Metadata.
//
// Versioning:
//   - Splitting a version into upstream part and iteration.
//   - Bumping the iteration of a version (BumpVersion).
package deb
