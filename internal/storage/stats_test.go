package storage

import (
	"testing"
	"time"

	"github.com/coffersTech/hitlog/internal/model"
)

func TestStats(t *testing.T) {
	now := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, now)

	writePartition(t, s.Dir(), "hitmap-20250101.log", "{\"x\":1}\n")
	writePartition(t, s.Dir(), "20250102.log", "{}\n")
	if _, err := s.Append(model.CategoryHitmap, records(`{"x":2}`)); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}

	hit := stats.Categories["hitmap"]
	if hit.Partitions != 2 || hit.Oldest != "20250101" || hit.Newest != "20250203" {
		t.Errorf("hitmap stats = %+v", hit)
	}
	if hit.Bytes != int64(len("{\"x\":1}\n")+len("{\"x\":2}\n")) {
		t.Errorf("hitmap bytes = %d", hit.Bytes)
	}

	lg := stats.Categories["log"]
	if lg.Partitions != 1 || lg.Oldest != "20250102" {
		t.Errorf("log stats = %+v", lg)
	}
	if stats.DiskUsage < hit.Bytes+lg.Bytes {
		t.Errorf("disk usage %d smaller than partition bytes", stats.DiskUsage)
	}
}
