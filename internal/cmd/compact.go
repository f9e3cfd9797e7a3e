package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dendrascience/dendra-couch-fuse/store"
	"github.com/spf13/cobra"
)

// NewCompactCmd creates and returns the compact subcommand for the couchfs CLI.
// It reclaims space held by superseded document revisions.
func NewCompactCmd() *cobra.Command {
	var (
		database string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "compact STORE_URL",
		Short: "Compact a couchfs database and its path index",
		Long: `Compact a couchfs database.

Every write stores a complete new document revision and the server keeps
the old ones around until compaction. Run this periodically on
write-heavy filesystems to reclaim space. It triggers database
compaction, index compaction, and view cleanup; the server finishes the
work in the background.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runCompact(args[0], database, timeout)
		},
	}

	cmd.Flags().StringVarP(&database, "database", "d", store.DefaultDatabase, "Database holding the filesystem documents")
	cmd.Flags().DurationVar(&timeout, "timeout", store.DefaultTimeout, "Request timeout for store operations")

	return cmd
}

func runCompact(storeURL, database string, timeout time.Duration) {
	ctx := context.Background()
	couch, err := store.DialCouch(ctx, storeURL, database, timeout, newLogger("warn"))
	if err != nil {
		log.Fatalf("Failed to reach the store: %v", err)
	}
	defer couch.Close()

	if err := couch.Compact(ctx); err != nil {
		log.Fatalf("Compaction failed: %v", err)
	}

	fmt.Printf("Compaction started for database %s\n", couch.Name())
}
