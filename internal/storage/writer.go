package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/hitlog/internal/model"
)

// Append writes records to today's (UTC) partition of category c, one JSON value per line,
// preserving input order. An empty batch touches nothing and returns 0.
//
// Every record is validated and compacted before the file is opened, so an invalid record
// rejects the whole batch. The batch is then written with a single Write call under the
// partition lock; if that write fails partway, lines already written stay in place.
func (s *Store) Append(c model.Category, records []model.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for i, r := range records {
		if len(r) == 0 {
			buf.WriteString("null")
			buf.WriteByte('\n')
			continue
		}
		if err := fastjson.ValidateBytes(r); err != nil {
			return 0, fmt.Errorf("record %d: %w: %v", i, ErrInvalidRecord, err)
		}
		if err := json.Compact(&buf, r); err != nil {
			return 0, fmt.Errorf("record %d: %w: %v", i, ErrInvalidRecord, err)
		}
		buf.WriteByte('\n')
	}

	name := model.PartitionName(c, s.now())
	path := filepath.Join(s.dir, name)

	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return 0, &WriteError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}

	s.log.Debug().
		Str("partition", name).
		Int("records", len(records)).
		Msg("batch appended")

	return len(records), nil
}
