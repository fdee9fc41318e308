package storage

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"

	"github.com/coffersTech/hitlog/internal/metrics"
	"github.com/coffersTech/hitlog/internal/model"
)

// ReadAll returns every record of category c, in partition date order and then line order.
// Blank lines are ignored. What happens to undecodable lines and unreadable files depends on
// policy. Partitions are read concurrently; ordering of the result is not affected.
func (s *Store) ReadAll(c model.Category, policy DecodePolicy) ([]model.Record, error) {
	s.layoutMu.RLock()
	defer s.layoutMu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	parts, err := s.Partitions(c)
	if err != nil {
		if policy == DecodeFail {
			return nil, fmt.Errorf("list partitions: %w", err)
		}
		s.log.Warn().Err(err).Msg("cannot list partitions")
		return []model.Record{}, nil
	}

	results := make([][]model.Record, len(parts))

	var g errgroup.Group
	g.SetLimit(s.readConcurrency)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			recs, err := s.readPartition(p, policy)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, recs := range results {
		total += len(recs)
	}
	out := make([]model.Record, 0, total)
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Store) readPartition(p model.Partition, policy DecodePolicy) ([]model.Record, error) {
	path := filepath.Join(s.dir, p.Name)

	r, closeFn, err := s.openPartition(p, path)
	if err != nil {
		if policy == DecodeFail {
			return nil, fmt.Errorf("open %s: %w", p.Name, err)
		}
		s.log.Warn().Err(err).Str("partition", p.Name).Msg("skipping unreadable partition")
		return nil, nil
	}
	defer closeFn()

	var recs []model.Record
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if rec, ok, err := decodeLine(line); err != nil {
				corrupt := &CorruptRecordError{Path: path, Line: lineNo, Err: err}
				if policy == DecodeFail {
					return nil, corrupt
				}
				metrics.CorruptLines.WithLabelValues(p.Category.String()).Inc()
				s.log.Debug().Err(corrupt).Msg("skipping corrupt line")
			} else if ok {
				recs = append(recs, rec)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if policy == DecodeFail {
				return nil, fmt.Errorf("read %s: %w", p.Name, readErr)
			}
			s.log.Warn().Err(readErr).Str("partition", p.Name).Msg("partial read")
			break
		}
	}
	return recs, nil
}

// openPartition returns a reader over the partition's JSONL content, decompressing archives.
func (s *Store) openPartition(p model.Partition, path string) (io.Reader, func(), error) {
	if p.Compressed {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		data, err := s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, nil, err
		}
		return bytes.NewReader(data), func() {}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// decodeLine reports ok=false for blank lines and an error for invalid JSON.
func decodeLine(line []byte) (model.Record, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false, nil
	}
	if err := fastjson.ValidateBytes(line); err != nil {
		return nil, false, err
	}
	return model.Record(line), true, nil
}
