package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/types"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/behemoth", "Behemoth data directory")
	redisAddr  = flag.String("redis-addr", "localhost:6379", "Redis address of the target command store")
	redisPass  = flag.String("redis-password", "", "Redis password")
	redisDB    = flag.Int("redis-db", 0, "Redis database number")
	dryRun     = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backupPath = flag.String("backup", "", "Path to backup the database before migration (default: <data-dir>/commands.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Behemoth Command Store Migration Tool - BoltDB → Redis")
	log.Println("======================================================")

	dbPath := filepath.Join(*dataDir, "commands.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Command database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Target: redis://%s/%d", *redisAddr, *redisDB)
	log.Printf("Dry run: %v", *dryRun)

	// Create backup unless in dry-run mode
	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		log.Fatalf("Failed to open command database: %v", err)
	}
	defer db.Close()

	if err := migrateCommandsToRedis(db, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
	} else {
		log.Println("\n✓ Migration completed successfully!")
		log.Println("The BoltDB command store has been preserved for rollback if needed.")
		log.Println("After verifying the migration, switch the server to the new backend:")
		log.Println("  BEHEMOTH_STORAGE_COMMAND_BACKEND=redis")
	}
}

func migrateCommandsToRedis(db *bolt.DB, dryRun bool) error {
	var executionCount int
	var commandCount int

	// First, inspect what exists
	err := db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte("commands"))
		if root == nil {
			log.Println("✓ No 'commands' bucket found - nothing to migrate")
			return nil
		}
		return root.ForEachBucket(func(k []byte) error {
			executionCount++
			return root.Bucket(k).ForEach(func(k, v []byte) error {
				commandCount++
				return nil
			})
		})
	})
	if err != nil {
		return err
	}

	log.Printf("Found %d commands across %d executions", commandCount, executionCount)
	if commandCount == 0 {
		log.Println("✓ No commands found to migrate")
		return nil
	}

	if dryRun {
		log.Println("\n[DRY RUN] Would perform the following operations:")
		log.Println("1. Connect to Redis and verify the target is reachable")
		log.Printf("2. Copy %d command records keyed per execution", commandCount)
		log.Println("3. Rebuild the per-execution ordinal index")
		log.Println("4. Preserve the BoltDB store for rollback")
		return nil
	}

	ctx := context.Background()
	target, err := cmdstore.NewRedisStore(ctx, *redisAddr, *redisPass, *redisDB)
	if err != nil {
		return err
	}
	defer target.Close()

	var migratedCount int
	log.Println("\nMigrating commands to Redis...")
	err = db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte("commands"))
		return root.ForEachBucket(func(execKey []byte) error {
			var cmds []*types.Command
			err := root.Bucket(execKey).ForEach(func(k, v []byte) error {
				var cmd types.Command
				if err := json.Unmarshal(v, &cmd); err != nil {
					log.Printf("⚠ Warning: Skipping invalid JSON for key %s/%s: %v", execKey, k, err)
					return nil
				}
				cmds = append(cmds, &cmd)
				return nil
			})
			if err != nil {
				return err
			}

			if len(cmds) == 0 {
				return nil
			}
			if err := target.BulkCreate(ctx, cmds); err != nil {
				return fmt.Errorf("failed to copy execution %s: %w", execKey, err)
			}
			migratedCount += len(cmds)
			if migratedCount%100 == 0 {
				log.Printf("  Migrated %d/%d...", migratedCount, commandCount)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Printf("✓ Migrated %d/%d commands to Redis", migratedCount, commandCount)
	log.Println("✓ Preserved the BoltDB store for rollback")
	return nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
