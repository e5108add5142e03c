package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"workspace-mood-monitor/internal/audit"
	"workspace-mood-monitor/internal/auth"
	pgstorage "workspace-mood-monitor/internal/storage/postgres"
	sqlitestorage "workspace-mood-monitor/internal/storage/sqlite"
)

func newDeadLettersCommand(logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Inspect and requeue dead-lettered queue entries",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), logger, func(store *storage) error {
				letters, err := store.queue.ListDeadLetters(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(letters) == 0 {
					fmt.Fprintln(out, color.GreenString("no dead letters"))
					return nil
				}
				for _, dl := range letters {
					fmt.Fprintf(out, "%s entry=%d attempts=%d failed_at=%s\n  %s\n",
						color.New(color.Bold).Sprintf("#%d", dl.ID),
						dl.EntryID,
						dl.Attempts,
						dl.FailedAt.UTC().Format(time.RFC3339),
						color.RedString(dl.LastError),
					)
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of dead letters")

	requeue := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Copy a dead letter back onto the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}
			return withStorage(cmd.Context(), logger, func(store *storage) error {
				entryID, err := store.queue.Requeue(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s dead letter %d as entry %d\n", color.GreenString("requeued"), id, entryID)
				if store.audit != nil {
					meta, _ := json.Marshal(map[string]int64{"entry_id": entryID})
					err := store.audit.Log(cmd.Context(), audit.Entry{
						Actor:        operatorName(),
						Action:       audit.ActionDeadLetterRequeue,
						ResourceType: "dead_letter",
						ResourceID:   strconv.FormatInt(id, 10),
						Metadata:     meta,
						UserAgent:    "moodmon-cli",
					})
					if err != nil {
						logger.Printf("cli: audit requeue %d: %v", id, err)
					}
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func newQueueCommand(logger *log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the ingest queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print entry counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd.Context(), logger, func(store *storage) error {
				stats, err := store.queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				printQueueStats(cmd.OutOrStdout(), stats.Queued, stats.Processing, stats.Done, stats.Failed, stats.DeadLetters)
				return nil
			})
		},
	})
	return cmd
}

func printQueueStats(out io.Writer, queued, processing, done, failed, dead int64) {
	fmt.Fprintf(out, "%-12s %d\n", "queued", queued)
	fmt.Fprintf(out, "%-12s %d\n", "processing", processing)
	fmt.Fprintf(out, "%-12s %s\n", "done", color.GreenString("%d", done))
	failedText := fmt.Sprintf("%d", failed)
	deadText := fmt.Sprintf("%d", dead)
	if failed > 0 {
		failedText = color.RedString("%d", failed)
	}
	if dead > 0 {
		deadText = color.YellowString("%d", dead)
	}
	fmt.Fprintf(out, "%-12s %s\n", "failed", failedText)
	fmt.Fprintf(out, "%-12s %s\n", "dead_letters", deadText)
}

func newMigrateCommand(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			store, err := openStorage(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			switch cfg.StorageDriver {
			case "postgres":
				err = pgstorage.Migrate(cmd.Context(), store.db)
			case "sqlite":
				err = sqlitestorage.Migrate(cmd.Context(), store.db)
			default:
				return fmt.Errorf("migrate: nothing to do for %s storage", cfg.StorageDriver)
			}
			if err != nil {
				return err
			}
			logger.Printf("migrate: %s schema up to date", cfg.StorageDriver)
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is required")
			}
			normalized, ok := auth.NormalizeRole(role)
			if !ok {
				return auth.ErrInvalidRole
			}
			token, err := auth.IssueToken([]byte(secret), subject, normalized, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func withStorage(ctx context.Context, logger *log.Logger, fn func(*storage) error) error {
	cfg := loadConfig()
	if cfg.StorageDriver == "memory" {
		return fmt.Errorf("%s storage has no persistent queue to inspect", cfg.StorageDriver)
	}
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func operatorName() string {
	if name := os.Getenv("USER"); name != "" {
		return "cli:" + name
	}
	return "cli"
}
