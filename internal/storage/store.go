package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/coffersTech/hitlog/internal/logging"
	"github.com/coffersTech/hitlog/internal/model"
)

// DecodePolicy controls what ReadAll does with lines and files it cannot decode.
type DecodePolicy int

const (
	// DecodeSkip drops undecodable lines and unreadable files.
	DecodeSkip DecodePolicy = iota
	// DecodeFail aborts the read on the first undecodable line or unreadable file.
	DecodeFail
)

func (p DecodePolicy) String() string {
	if p == DecodeFail {
		return "fail"
	}
	return "skip"
}

// ParseDecodePolicy accepts "skip" (or "") and "fail".
func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch strings.ToLower(s) {
	case "", "skip":
		return DecodeSkip, nil
	case "fail":
		return DecodeFail, nil
	}
	return DecodeSkip, fmt.Errorf("unknown decode policy %q", s)
}

// WriteError reports a partition file that could not be opened or written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("append %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// CorruptRecordError reports a partition line that is not valid JSON.
type CorruptRecordError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("%s:%d: %v", filepath.Base(e.Path), e.Line, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// ErrInvalidRecord is returned by Append when a record is not valid JSON.
var ErrInvalidRecord = errors.New("record is not valid JSON")

// ErrClosed is returned by reads and cleaner passes after Close.
var ErrClosed = errors.New("store is closed")

// Options tunes a Store.
type Options struct {
	// Now is the store clock. Defaults to time.Now.
	Now func() time.Time

	// ReadConcurrency bounds how many partitions ReadAll reads at once.
	ReadConcurrency int
}

// Store manages append-only, date-partitioned JSONL files in one directory.
type Store struct {
	dir             string
	now             func() time.Time
	readConcurrency int

	// locks serialises appends per partition file within this process.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// layoutMu is held for writing while the cleaner deletes or archives partitions, and for
	// reading by ReadAll, so a read never sees a partition half way through archiving.
	// It also orders Close after any running pass.
	layoutMu sync.RWMutex
	closed   bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	log zerolog.Logger
}

// Open creates dir if needed and returns a Store rooted there.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReadConcurrency <= 0 {
		opts.ReadConcurrency = runtime.GOMAXPROCS(0)
	}

	return &Store{
		dir:             dir,
		now:             opts.Now,
		readConcurrency: opts.ReadConcurrency,
		locks:           make(map[string]*sync.Mutex),
		encoder:         enc,
		decoder:         dec,
		log:             logging.With().Str("component", "store").Logger(),
	}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close waits for a running cleaner pass or read, then releases the zstd codecs.
// It is safe to call more than once.
func (s *Store) Close() error {
	s.layoutMu.Lock()
	defer s.layoutMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.decoder.Close()
	return s.encoder.Close()
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Partitions lists the partition files of one category, oldest first.
// For a given date an archive sorts before the plain file, since the plain file
// can only have been written after the archive was created.
func (s *Store) Partitions(c model.Category) ([]model.Partition, error) {
	all, err := s.listPartitions()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Category == c {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) listPartitions() ([]model.Partition, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var parts []model.Partition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		p, ok := model.ParsePartitionName(entry.Name())
		if !ok {
			continue
		}
		parts = append(parts, p)
	}

	sort.Slice(parts, func(i, j int) bool {
		if !parts[i].Date.Equal(parts[j].Date) {
			return parts[i].Date.Before(parts[j].Date)
		}
		if parts[i].Category != parts[j].Category {
			return parts[i].Category < parts[j].Category
		}
		return parts[i].Compressed && !parts[j].Compressed
	})
	return parts, nil
}
