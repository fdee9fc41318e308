package storage

import (
	"os"
	"path/filepath"

	"github.com/coffersTech/hitlog/internal/model"
)

// CategoryStats summarises the partitions of one category.
type CategoryStats struct {
	Partitions int    `json:"partitions"`
	Archived   int    `json:"archived"`
	Bytes      int64  `json:"bytes"`
	Oldest     string `json:"oldest,omitempty"` // YYYYMMDD
	Newest     string `json:"newest,omitempty"` // YYYYMMDD
}

// Stats contains storage figures for the stats endpoint.
type Stats struct {
	Categories map[string]CategoryStats `json:"categories"`
	DiskUsage  int64                    `json:"disk_usage"` // bytes, whole directory
}

// Stats scans the storage directory.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{Categories: make(map[string]CategoryStats)}
	for _, c := range model.Categories() {
		stats.Categories[c.String()] = CategoryStats{}
	}

	s.layoutMu.RLock()
	parts, err := s.listPartitions()
	s.layoutMu.RUnlock()
	if err != nil {
		return stats, err
	}

	for _, p := range parts {
		cs := stats.Categories[p.Category.String()]
		cs.Partitions++
		if p.Compressed {
			cs.Archived++
		}
		if info, err := os.Stat(filepath.Join(s.dir, p.Name)); err == nil {
			cs.Bytes += info.Size()
		}
		date := p.Date.Format(model.DateLayout)
		if cs.Oldest == "" || date < cs.Oldest {
			cs.Oldest = date
		}
		if date > cs.Newest {
			cs.Newest = date
		}
		stats.Categories[p.Category.String()] = cs
	}

	var size int64
	_ = filepath.Walk(s.dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	stats.DiskUsage = size

	return stats, nil
}
