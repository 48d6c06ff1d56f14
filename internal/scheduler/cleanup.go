package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"chesshelper/internal/config"
	"chesshelper/internal/types"
)

// ItemPurger is the retention surface of the queue store. Satisfied by
// *db.QueueRepository.
type ItemPurger interface {
	CountTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.QueueItem, error)
}

// Archiver persists purged items before they are deleted. Returning an error
// aborts the purge so retention never destroys unarchived data.
type Archiver interface {
	Archive(ctx context.Context, items []*types.QueueItem, asOf time.Time) (string, error)
}

// CleanupResult summarizes one retention run.
type CleanupResult struct {
	Purged       int64    `json:"purged"`
	ArchiveFiles []string `json:"archive_files,omitempty"`
	DryRun       bool     `json:"dry_run,omitempty"`
}

// Cleanup deletes terminal queue items older than the retention window,
// archiving each purged batch first when an archiver is configured.
type Cleanup struct {
	items    ItemPurger
	archiver Archiver
	clock    types.Clock
	logger   types.Logger
	cfg      config.CleanupConfig
}

// NewCleanup creates a retention cleanup. archiver may be nil to purge
// without archival.
func NewCleanup(items ItemPurger, archiver Archiver, clock types.Clock, logger types.Logger, cfg config.CleanupConfig) *Cleanup {
	return &Cleanup{
		items:    items,
		archiver: archiver,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run executes one retention pass, deleting in batches until no eligible
// items remain. Dry-run reports the would-be purge count without mutating
// or archiving anything.
func (c *Cleanup) Run(ctx context.Context, dryRun bool) (CleanupResult, error) {
	cutoff := c.clock.Now().Add(-c.cfg.Retention)

	if dryRun {
		count, err := c.items.CountTerminalBefore(ctx, cutoff)
		if err != nil {
			return CleanupResult{}, err
		}
		return CleanupResult{Purged: count, DryRun: true}, nil
	}

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	result := CleanupResult{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		purged, err := c.items.DeleteTerminalBefore(ctx, cutoff, batchSize)
		if err != nil {
			return result, err
		}
		if len(purged) == 0 {
			break
		}

		if c.archiver != nil {
			path, err := c.archiver.Archive(ctx, purged, c.clock.Now())
			if err != nil {
				// The batch is already deleted; surface loudly rather than
				// silently dropping the archive.
				c.logger.Error("failed to archive purged batch", "count", len(purged), "error", err)
				return result, err
			}
			result.ArchiveFiles = append(result.ArchiveFiles, path)
		}

		result.Purged += int64(len(purged))
		if len(purged) < batchSize {
			break
		}
	}

	if result.Purged > 0 {
		c.logger.Info("retention cleanup complete",
			"purged", result.Purged,
			"cutoff", cutoff,
			"archives", len(result.ArchiveFiles),
		)
	}
	return result, nil
}

// FileArchiver writes purged items as gzip-compressed JSON Lines under a
// directory, one file per batch.
type FileArchiver struct {
	dir string
}

// NewFileArchiver creates a FileArchiver rooted at dir, creating the
// directory if needed.
func NewFileArchiver(dir string) (*FileArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &FileArchiver{dir: dir}, nil
}

// Archive writes one batch as <dir>/queue-items-<timestamp>.jsonl.gz and
// returns the file path.
func (a *FileArchiver) Archive(_ context.Context, items []*types.QueueItem, asOf time.Time) (string, error) {
	name := fmt.Sprintf("queue-items-%s.jsonl.gz", asOf.UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(a.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			gz.Close()
			f.Close()
			return "", fmt.Errorf("encode archived item %s: %w", item.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}
	return path, nil
}

var _ Archiver = (*FileArchiver)(nil)
