package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/macroecon/internal/cli/ui"
	"github.com/aristath/macroecon/internal/di"
	"github.com/aristath/macroecon/internal/reliability"
)

var errNoBackup = errors.New("backup bucket not configured (set BACKUP_BUCKET, BACKUP_ACCESS_KEY_ID and BACKUP_SECRET_ACCESS_KEY)")

func newCacheCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the series cache",
	}
	cmd.AddCommand(newCacheListCommand(a))
	cmd.AddCommand(newCacheInvalidateCommand(a))
	cmd.AddCommand(newCacheClearCommand(a))
	cmd.AddCommand(newCacheBackupCommand(a))
	cmd.AddCommand(newCacheSnapshotsCommand(a))
	cmd.AddCommand(newCacheRestoreCommand(a))
	return cmd
}

func newCacheListCommand(a *app) *cobra.Command {
	var staleOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			entries, err := c.Store.ListEntries()
			if err != nil {
				return err
			}

			table := ui.NewTable(cmd.OutOrStdout(), a.noColor, "KEY", "SERIES", "FETCHED", "SIZE", "STATUS")
			table.SetAlign(3, ui.AlignRight)
			for _, e := range entries {
				if staleOnly && !e.Stale {
					continue
				}
				table.AddRow(e.Key, describeEntry(e.Metadata), formatTime(e.FetchedAt), formatBytes(e.Size), entryStatus(e.Stale, e.Complete))
			}
			table.Render()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d entries in %s (ttl %s)\n", table.Len(), c.Store.Dir(), c.Store.TTL())
			return nil
		},
	}

	cmd.Flags().BoolVar(&staleOnly, "stale", false, "Only list entries older than the TTL")
	return cmd
}

// describeEntry renders source:series_id from entry tags.
func describeEntry(meta map[string]any) string {
	provider, _ := meta["source"].(string)
	id, _ := meta["series_id"].(string)
	if id == "" {
		id, _ = meta["table"].(string)
	}
	if provider == "" && id == "" {
		return "-"
	}
	return provider + ":" + id
}

func entryStatus(stale, complete bool) string {
	switch {
	case !complete:
		return "incomplete"
	case stale:
		return "stale"
	default:
		return "fresh"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newCacheInvalidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <key>...",
		Short: "Remove entries by key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			for _, key := range args {
				if err := c.Store.Invalidate(key); err != nil {
					return fmt.Errorf("invalidate %s: %w", key, err)
				}
			}
			ui.Success(cmd.OutOrStdout(), a.noColor, "Invalidated %d keys", len(args))
			return nil
		},
	}
}

func newCacheClearCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			if err := c.Store.ClearAll(); err != nil {
				return err
			}
			ui.Success(cmd.OutOrStdout(), a.noColor, "Cache cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm removal")
	return cmd
}

// backupService returns the configured backup service.
func backupService(a *app, cmd *cobra.Command) (*di.Container, *reliability.CacheBackupService, error) {
	c, _, err := a.services(cmd)
	if err != nil {
		return nil, nil, err
	}
	if c.Backup == nil {
		return nil, nil, errNoBackup
	}
	return c, c.Backup, nil
}

func newCacheBackupCommand(a *app) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload a snapshot of the cache to the backup bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := backupService(a, cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)

			manifest, err := svc.CreateSnapshot(ctx)
			if err != nil {
				return err
			}
			ui.Success(cmd.OutOrStdout(), a.noColor, "Snapshot %s: %d entries, %s", manifest.ID, len(manifest.Keys), formatBytes(manifest.SizeBytes))

			if keep > 0 {
				deleted, err := svc.RotateSnapshots(ctx, keep)
				if err != nil {
					return err
				}
				if deleted > 0 {
					ui.Warn(cmd.OutOrStdout(), a.noColor, "Rotated out %d old snapshots", deleted)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 0, "Keep only this many newest snapshots after the upload (0 keeps all)")
	return cmd
}

func newCacheSnapshotsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List snapshots in the backup bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := backupService(a, cmd)
			if err != nil {
				return err
			}
			snapshots, err := svc.ListSnapshots(commandContext(cmd))
			if err != nil {
				return err
			}

			table := ui.NewTable(cmd.OutOrStdout(), a.noColor, "ID", "CREATED", "ENTRIES", "SIZE")
			table.SetAlign(2, ui.AlignRight)
			table.SetAlign(3, ui.AlignRight)
			for _, s := range snapshots {
				table.AddRow(s.ID, formatTime(s.CreatedAt), strconv.Itoa(s.Entries), formatBytes(s.SizeBytes))
			}
			table.Render()
			return nil
		},
	}
}

func newCacheRestoreCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore cache entries from a snapshot",
		Long: `Restore cache entries from a snapshot. Entries present in the snapshot
overwrite local ones and keep their original fetch time; other local entries
are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := backupService(a, cmd)
			if err != nil {
				return err
			}
			n, err := svc.RestoreSnapshot(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			ui.Success(cmd.OutOrStdout(), a.noColor, "Restored %d entries from %s", n, args[0])
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
