package cmd

import (
	"github.com/dendrascience/dendra-couch-fuse/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the couchfs CLI.
// It sets up all subcommands, command groups, and basic configuration.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "couchfs",
		Short: "couchfs - A FUSE filesystem backed by CouchDB",
		Long: `couchfs is a FUSE filesystem that keeps files, directories, and
symbolic links as documents in a CouchDB database.

Every node in the tree is one document: directories carry their entries
in a JSON attachment, files carry their content in a binary attachment,
and a server-side view resolves paths to documents. Any machine with
access to the database can mount the same tree.

Use subcommands to perform different operations:
  - mount: Mount a couchfs filesystem at a specified mountpoint
  - fsck: Verify (and optionally repair) the document graph
  - compact: Reclaim space held by old document revisions
  - stats: Summarize the documents in a database
  - load: Import a local directory tree into a database
  - seed: Generate test files inside a database`,
		Version: version.GetFullVersion(),
	}

	groupFilesystem := "filesystem"
	groupMaintenance := "maintenance"
	groupUtilities := "utilities"

	// Add command groups for better organization
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupMaintenance,
		Title: "Maintenance Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	mountCmd := NewMountCmd()
	fsckCmd := NewFsckCmd()
	compactCmd := NewCompactCmd()
	statsCmd := NewStatsCmd()
	loadCmd := NewLoadCmd()
	seedCmd := NewSeedCmd()

	mountCmd.GroupID = groupFilesystem
	fsckCmd.GroupID = groupMaintenance
	compactCmd.GroupID = groupMaintenance
	statsCmd.GroupID = groupMaintenance
	loadCmd.GroupID = groupUtilities
	seedCmd.GroupID = groupUtilities

	// Add subcommands
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(fsckCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(seedCmd)

	return rootCmd
}
