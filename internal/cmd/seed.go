package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"path"
	"time"

	"github.com/dendrascience/dendra-couch-fuse/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewSeedCmd creates and returns the seed subcommand for the couchfs CLI.
// It generates test files with a randomized directory structure.
func NewSeedCmd() *cobra.Command {
	var (
		database  string
		timeout   time.Duration
		fileCount int
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "seed STORE_URL",
		Short: "Generate test files with randomized directory structure",
		Long: `Generate test files inside a couchfs database.

Creates files in a YYYY/MM/DD/HH directory structure with randomized
placement. Files are distributed across the hierarchy with most files at
the deepest level (HH). Each file contains a single UUID line drawn from
a pool of 50, so many files share content.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSeed(args[0], database, timeout, fileCount, verbose)
		},
	}

	cmd.Flags().StringVarP(&database, "database", "d", store.DefaultDatabase, "Database holding the filesystem documents")
	cmd.Flags().DurationVar(&timeout, "timeout", store.DefaultTimeout, "Request timeout for store operations")
	cmd.Flags().IntVarP(&fileCount, "count", "c", 1000, "Number of files to generate")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func runSeed(storeURL, database string, timeout time.Duration, fileCount int, verbose bool) {
	ctx := context.Background()
	logger := newLogger("warn")

	couch, err := store.DialCouch(ctx, storeURL, database, timeout, logger)
	if err != nil {
		log.Fatalf("Failed to reach the store: %v", err)
	}
	defer couch.Close()

	drv := store.NewDriver(couch, nil, logger)
	if err := drv.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to initialize the filesystem root: %v", err)
	}

	if verbose {
		fmt.Printf("Generating %d test files in database %s\n", fileCount, database)
	}

	created, err := seedTree(ctx, drv, fileCount, verbose)
	if err != nil {
		log.Fatalf("Seeding failed after %d files: %v", created, err)
	}

	fmt.Printf("Created %d files\n", created)
}

// seedTree writes fileCount random files through the driver. Every file
// lands somewhere under /YYYY/MM/DD/HH. The hierarchy stops at the hour
// because each directory level costs a round trip per file created in it.
func seedTree(ctx context.Context, drv *store.Driver, fileCount int, verbose bool) (int, error) {
	// Generate pool of 50 UUIDs
	uuidPool := make([]string, 50)
	for i := range uuidPool {
		uuidPool[i] = uuid.New().String()
	}

	// Start from a base time and vary it
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	created := 0
	for created < fileCount {
		dayOffset, _ := rand.Int(rand.Reader, big.NewInt(365))
		hourOffset, _ := rand.Int(rand.Reader, big.NewInt(24))
		fileTime := baseTime.AddDate(0, 0, int(dayOffset.Int64())).
			Add(time.Duration(hourOffset.Int64()) * time.Hour)

		// Determine directory level (most files at deepest level)
		levelRand, _ := rand.Int(rand.Reader, big.NewInt(100))
		var dir string
		switch {
		case levelRand.Int64() < 5: // 5% at year level
			dir = fmt.Sprintf("/%04d", fileTime.Year())
		case levelRand.Int64() < 15: // 10% at month level
			dir = fmt.Sprintf("/%04d/%02d", fileTime.Year(), fileTime.Month())
		case levelRand.Int64() < 30: // 15% at day level
			dir = fmt.Sprintf("/%04d/%02d/%02d", fileTime.Year(), fileTime.Month(), fileTime.Day())
		default: // 70% at hour level
			dir = fmt.Sprintf("/%04d/%02d/%02d/%02d", fileTime.Year(), fileTime.Month(), fileTime.Day(), fileTime.Hour())
		}

		if err := mkdirAll(ctx, drv, dir); err != nil {
			return created, err
		}

		// Generate random filename (lowercase hex)
		filenameNum, _ := rand.Int(rand.Reader, big.NewInt(0xFFFFFFFF))
		extRand, _ := rand.Int(rand.Reader, big.NewInt(2))
		ext := ".json"
		if extRand.Int64() == 1 {
			ext = ".txt"
		}
		dest := path.Join(dir, fmt.Sprintf("%08x%s", filenameNum.Int64(), ext))

		// Select random UUID from pool
		uuidIndex, _ := rand.Int(rand.Reader, big.NewInt(int64(len(uuidPool))))
		content := uuidPool[uuidIndex.Int64()] + "\n"

		err := storeFile(ctx, drv, dest, 0o644, []byte(content))
		if errors.Is(err, store.ErrExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++

		if verbose && created%100 == 0 {
			fmt.Printf("Created %d/%d files...\n", created, fileCount)
		}
	}

	return created, nil
}

// mkdirAll creates dir and any missing ancestors through the driver.
func mkdirAll(ctx context.Context, drv *store.Driver, dir string) error {
	if dir == "/" {
		return nil
	}
	if err := mkdirAll(ctx, drv, path.Dir(dir)); err != nil {
		return err
	}
	if err := drv.Mkdir(ctx, dir, 0o755); err != nil && !errors.Is(err, store.ErrExists) {
		return err
	}
	return nil
}
