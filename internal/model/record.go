package model

import (
	"fmt"
	"strings"
	"time"
)

// Record is a single client-submitted JSON value, kept as compact JSON bytes.
// The store is schema-agnostic: a record may be an object, array, string, number, bool or null.
type Record []byte

// Category selects the partition family a batch is written to.
type Category uint8

const (
	CategoryLog Category = iota
	CategoryHitmap
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryLog, CategoryHitmap}
}

func (c Category) String() string {
	switch c {
	case CategoryLog:
		return "log"
	case CategoryHitmap:
		return "hitmap"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Prefix is the filename prefix of the category's partitions.
func (c Category) Prefix() string {
	if c == CategoryHitmap {
		return "hitmap-"
	}
	return ""
}

const (
	// DateLayout is the fixed-width UTC date embedded in partition names.
	// Partition ordering relies on it staying fixed-width.
	DateLayout = "20060102"

	PartitionExt = ".log"
	ArchiveExt   = ".log.zst"
)

// PartitionName returns the partition filename for c on the UTC date of t.
// Filename format: <prefix>YYYYMMDD.log
func PartitionName(c Category, t time.Time) string {
	return c.Prefix() + t.UTC().Format(DateLayout) + PartitionExt
}

// ArchiveName returns the compressed archive filename for c on the UTC date of t.
func ArchiveName(c Category, t time.Time) string {
	return c.Prefix() + t.UTC().Format(DateLayout) + ArchiveExt
}

// Partition identifies one partition file found on disk.
type Partition struct {
	Name       string
	Category   Category
	Date       time.Time
	Compressed bool
}

// ParsePartitionName strictly parses a partition or archive filename.
// Anything that is not exactly <prefix>YYYYMMDD.log or <prefix>YYYYMMDD.log.zst is rejected,
// so "hitmap-20250101.log" never matches the log category and stray files are ignored.
func ParsePartitionName(name string) (Partition, bool) {
	p := Partition{Name: name}

	base := name
	switch {
	case strings.HasSuffix(base, ArchiveExt):
		base = strings.TrimSuffix(base, ArchiveExt)
		p.Compressed = true
	case strings.HasSuffix(base, PartitionExt):
		base = strings.TrimSuffix(base, PartitionExt)
	default:
		return Partition{}, false
	}

	if strings.HasPrefix(base, CategoryHitmap.Prefix()) {
		p.Category = CategoryHitmap
		base = strings.TrimPrefix(base, CategoryHitmap.Prefix())
	} else {
		p.Category = CategoryLog
	}

	if len(base) != len(DateLayout) {
		return Partition{}, false
	}
	for i := 0; i < len(base); i++ {
		if base[i] < '0' || base[i] > '9' {
			return Partition{}, false
		}
	}
	date, err := time.ParseInLocation(DateLayout, base, time.UTC)
	if err != nil {
		return Partition{}, false
	}
	p.Date = date
	return p, true
}
