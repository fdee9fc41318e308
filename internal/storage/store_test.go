package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coffersTech/hitlog/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{Now: fixedClock(now)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func records(vals ...string) []model.Record {
	out := make([]model.Record, len(vals))
	for i, v := range vals {
		out[i] = model.Record(v)
	}
	return out
}

func assertRecords(t *testing.T, got []model.Record, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("record %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestAppendReadAllRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	s := newTestStore(t, now)

	batch := records(`{"a":1}`, `[1,2,3]`, `"text with\nnewline"`, `3.14159`, `null`, `{"z":1,"a":{"b":[true,false]}}`)
	n, err := s.Append(model.CategoryHitmap, batch)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != len(batch) {
		t.Errorf("Append returned %d, want %d", n, len(batch))
	}

	got, err := s.ReadAll(model.CategoryHitmap, DecodeFail)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	assertRecords(t, got, `{"a":1}`, `[1,2,3]`, `"text with\nnewline"`, `3.14159`, `null`, `{"z":1,"a":{"b":[true,false]}}`)

	if _, err := os.Stat(filepath.Join(s.Dir(), "hitmap-20250314.log")); err != nil {
		t.Errorf("expected hitmap partition file: %v", err)
	}
}

func TestAppendCompactsRecords(t *testing.T) {
	s := newTestStore(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	if _, err := s.Append(model.CategoryLog, records("{\n  \"a\": 1\n}")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), "20250102.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{\"a\":1}\n" {
		t.Errorf("partition content = %q", data)
	}
}

func TestAppendPreservesPriorContent(t *testing.T) {
	s := newTestStore(t, time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC))

	if _, err := s.Append(model.CategoryLog, records(`{"first":true}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(model.CategoryLog, records(`{"a":1}`, `{"b":2}`)); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadAll(model.CategoryLog, DecodeFail)
	if err != nil {
		t.Fatal(err)
	}
	assertRecords(t, got, `{"first":true}`, `{"a":1}`, `{"b":2}`)
}

func TestAppendEmptyBatchCreatesNothing(t *testing.T) {
	s := newTestStore(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	n, err := s.Append(model.CategoryLog, nil)
	if err != nil || n != 0 {
		t.Fatalf("Append(nil) = %d, %v", n, err)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("expected empty dir, found %d entries", len(entries))
	}
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	s := newTestStore(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	_, err := s.Append(model.CategoryLog, records(`{"ok":1}`, `{broken`))
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "20250102.log")); !os.IsNotExist(err) {
		t.Errorf("no partition should be created for a rejected batch")
	}
}

func TestAppendWriteError(t *testing.T) {
	s := newTestStore(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	// A directory in place of the partition file makes the open fail.
	if err := os.Mkdir(filepath.Join(s.Dir(), "20250102.log"), 0755); err != nil {
		t.Fatal(err)
	}

	_, err := s.Append(model.CategoryLog, records(`{"a":1}`))
	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("expected *WriteError, got %T %v", err, err)
	}
	if !strings.Contains(werr.Error(), "20250102.log") {
		t.Errorf("error should name the partition: %v", werr)
	}
}

func TestCategoriesAreIsolated(t *testing.T) {
	s := newTestStore(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	if _, err := s.Append(model.CategoryLog, records(`{"kind":"log"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(model.CategoryHitmap, records(`{"kind":"hit"}`)); err != nil {
		t.Fatal(err)
	}

	logs, _ := s.ReadAll(model.CategoryLog, DecodeFail)
	assertRecords(t, logs, `{"kind":"log"}`)
	hits, _ := s.ReadAll(model.CategoryHitmap, DecodeFail)
	assertRecords(t, hits, `{"kind":"hit"}`)
}

func TestReadAllOrdersPartitionsByDate(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"hitmap-20241231.log": "{\"d\":\"1231\"}\n",
		"hitmap-20250101.log": "{\"d\":\"0101a\"}\n{\"d\":\"0101b\"}\n",
		"hitmap-20250110.log": "{\"d\":\"0110\"}\n",
		"hitmap-2025011.log":  "{\"d\":\"bad-width\"}\n",
		"hitmap-latest.log":   "{\"d\":\"not-a-date\"}\n",
		"notes.txt":           "ignored\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.ReadAll(model.CategoryHitmap, DecodeFail)
	if err != nil {
		t.Fatal(err)
	}
	assertRecords(t, got, `{"d":"1231"}`, `{"d":"0101a"}`, `{"d":"0101b"}`, `{"d":"0110"}`)
}

func TestPartitionNameOrderMatchesDateOrder(t *testing.T) {
	dates := []time.Time{
		time.Date(2009, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2010, 2, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, c := range model.Categories() {
		for i := 1; i < len(dates); i++ {
			a := model.PartitionName(c, dates[i-1])
			b := model.PartitionName(c, dates[i])
			if !(a < b) {
				t.Errorf("%s: %q should sort before %q", c, a, b)
			}
		}
	}
}

func TestReadAllSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := "{\"a\":1}\n{not json\n\n   \n{\"b\":2}\n{\"c\":3}"
	if err := os.WriteFile(filepath.Join(dir, "hitmap-20250101.log"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hitmap-20250102.log"), []byte("garbage\n{\"d\":4}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.ReadAll(model.CategoryHitmap, DecodeSkip)
	if err != nil {
		t.Fatalf("ReadAll(skip): %v", err)
	}
	assertRecords(t, got, `{"a":1}`, `{"b":2}`, `{"c":3}`, `{"d":4}`)

	_, err = s.ReadAll(model.CategoryHitmap, DecodeFail)
	var cerr *CorruptRecordError
	if !errors.As(err, &cerr) {
		t.Fatalf("ReadAll(fail): expected *CorruptRecordError, got %v", err)
	}
	if cerr.Line != 2 && cerr.Line != 1 {
		t.Errorf("unexpected corrupt line number %d", cerr.Line)
	}
}

func TestReadAllEmptyDir(t *testing.T) {
	s := newTestStore(t, time.Now())
	got, err := s.ReadAll(model.CategoryHitmap, DecodeFail)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestConcurrentAppendsKeepBatchesContiguous(t *testing.T) {
	s := newTestStore(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))

	const writers = 8
	const perBatch = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]model.Record, perBatch)
			for i := range batch {
				batch[i] = model.Record([]byte{'[', byte('0' + w), ']'})
			}
			if _, err := s.Append(model.CategoryLog, batch); err != nil {
				t.Error(err)
			}
		}(w)
	}
	wg.Wait()

	got, err := s.ReadAll(model.CategoryLog, DecodeFail)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != writers*perBatch {
		t.Fatalf("got %d records, want %d", len(got), writers*perBatch)
	}
	for start := 0; start < len(got); start += perBatch {
		for i := start; i < start+perBatch; i++ {
			if !bytes.Equal(got[i], got[start]) {
				t.Fatalf("batch starting at %d interleaved at %d: %s vs %s", start, i, got[start], got[i])
			}
		}
	}
}

func TestParseDecodePolicy(t *testing.T) {
	for in, want := range map[string]DecodePolicy{"": DecodeSkip, "skip": DecodeSkip, "FAIL": DecodeFail} {
		got, err := ParseDecodePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseDecodePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDecodePolicy("ignore"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
