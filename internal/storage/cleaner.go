package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coffersTech/hitlog/internal/metrics"
	"github.com/coffersTech/hitlog/internal/model"
)

const day = 24 * time.Hour

// CleanerConfig selects what the cleaner does. Zero values disable each action.
type CleanerConfig struct {
	// Retention deletes partitions whose whole day ended more than Retention ago.
	Retention time.Duration

	// CompressAfterDays archives plain partitions at least this many days old into .log.zst.
	CompressAfterDays int
}

func (c CleanerConfig) enabled() bool {
	return c.Retention > 0 || c.CompressAfterDays > 0
}

// CleanResult lists what one cleaner pass did.
type CleanResult struct {
	Removed  []string
	Archived []string
	Errors   []error
}

// RunCleaner periodically expires and archives partitions until ctx is done.
func (s *Store) RunCleaner(ctx context.Context, interval time.Duration, cfg CleanerConfig) {
	if !cfg.enabled() || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().
		Dur("retention", cfg.Retention).
		Int("compress_after_days", cfg.CompressAfterDays).
		Dur("interval", interval).
		Msg("cleaner started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := s.Clean(cfg)
			for _, err := range res.Errors {
				s.log.Error().Err(err).Msg("cleaner error")
			}
		}
	}
}

// Clean runs a single cleaner pass. Today's partitions are never touched. Reads wait for
// the pass to finish.
func (s *Store) Clean(cfg CleanerConfig) CleanResult {
	var res CleanResult

	s.layoutMu.Lock()
	defer s.layoutMu.Unlock()
	if s.closed {
		res.Errors = append(res.Errors, ErrClosed)
		return res
	}

	parts, err := s.listPartitions()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("list partitions: %w", err))
		return res
	}

	now := s.now().UTC()
	today := now.Truncate(day)

	for _, p := range parts {
		if !p.Date.Before(today) {
			continue
		}

		if cfg.Retention > 0 && p.Date.Add(day).Before(now.Add(-cfg.Retention)) {
			if err := s.removePartition(p); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Removed = append(res.Removed, p.Name)
			metrics.PartitionsRemoved.Inc()
			s.log.Info().Str("partition", p.Name).Msg("expired partition deleted")
			continue
		}

		if cfg.CompressAfterDays > 0 && !p.Compressed &&
			!p.Date.After(today.Add(-time.Duration(cfg.CompressAfterDays)*day)) {
			if err := s.archivePartition(p); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Archived = append(res.Archived, p.Name)
			metrics.PartitionsArchived.Inc()
			s.log.Info().Str("partition", p.Name).Msg("partition archived")
		}
	}
	return res
}

func (s *Store) removePartition(p model.Partition) error {
	lock := s.lockFor(model.PartitionName(p.Category, p.Date))
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(filepath.Join(s.dir, p.Name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", p.Name, err)
	}
	return nil
}

// archivePartition compresses a plain partition, merging it after any existing archive of
// the same day, then removes the plain file.
func (s *Store) archivePartition(p model.Partition) error {
	plainName := model.PartitionName(p.Category, p.Date)
	archiveName := model.ArchiveName(p.Category, p.Date)
	plainPath := filepath.Join(s.dir, plainName)
	archivePath := filepath.Join(s.dir, archiveName)

	lock := s.lockFor(plainName)
	lock.Lock()
	defer lock.Unlock()

	plain, err := os.ReadFile(plainPath)
	if err != nil {
		return fmt.Errorf("archive %s: %w", plainName, err)
	}

	var content []byte
	if existing, err := os.ReadFile(archivePath); err == nil {
		content, err = s.decoder.DecodeAll(existing, nil)
		if err != nil {
			return fmt.Errorf("archive %s: decode existing: %w", archiveName, err)
		}
		if len(content) > 0 && content[len(content)-1] != '\n' {
			content = append(content, '\n')
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("archive %s: %w", archiveName, err)
	}
	content = append(content, plain...)

	compressed := s.encoder.EncodeAll(content, make([]byte, 0, len(content)/4))

	tmpPath := archivePath + ".tmp"
	if err := os.WriteFile(tmpPath, compressed, 0644); err != nil {
		return fmt.Errorf("archive %s: %w", archiveName, err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("archive %s: %w", archiveName, err)
	}
	if err := os.Remove(plainPath); err != nil {
		return fmt.Errorf("archive %s: remove plain file: %w", plainName, err)
	}
	return nil
}
