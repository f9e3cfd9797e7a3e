// Package cmd provides the command-line interface implementation for couchfs.
//
// This package contains all the subcommand implementations for the couchfs CLI
// tool. It uses the Cobra library for command structure and Fang for beautiful
// styling.
//
// The package is organized into the following commands:
//   - root: Main command coordinator and entry point
//   - mount: FUSE filesystem mounting functionality
//   - fsck: Document graph verification and repair
//   - compact: Database and path index compaction
//   - stats: Document statistics without mounting
//   - load: Local directory tree import
//   - seed: Test data generation
//
// Each command is implemented as a separate file with its own constructor
// function that returns a *cobra.Command. The root command coordinates all
// subcommands.
//
// The package leverages the store package for document operations and the
// couchfs package for the filesystem implementation.
package cmd
