package logstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func rec(ts time.Time, kind RecordKind, raw string) Record {
	return Record{Timestamp: ts, Kind: kind, Raw: []byte(raw)}
}

func TestAppendAndRead(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.Append("s1", []Record{
		rec(now, RecordCommand, "git status"),
		rec(now.Add(time.Second), RecordOutput, "On branch main"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	recs, err := s.Read("s1", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Kind != RecordCommand || string(recs[0].Raw) != "git status" {
		t.Fatalf("first record = %+v", recs[0])
	}
}

func TestReadLimitReturnsMostRecent(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()
	var recs []Record
	for i := 0; i < 5; i++ {
		recs = append(recs, rec(now.Add(time.Duration(i)*time.Second), RecordRaw, string(rune('a'+i))))
	}
	if err := s.Append("s1", recs); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.Read("s1", 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || string(got[0].Raw) != "d" || string(got[1].Raw) != "e" {
		t.Fatalf("limit read = %+v", got)
	}
}

func TestCorruptLineSkipped(t *testing.T) {
	s := newStore(t)
	now := time.Now().UTC()
	if err := s.Append("s1", []Record{rec(now, RecordRaw, "one")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Inject garbage between two valid records.
	p := filepath.Join(s.Dir(), "s1.log.jsonl")
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("{not json at all\n")
	_ = f.Close()
	if err := s.Append("s1", []Record{rec(now.Add(time.Second), RecordRaw, "two")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := s.Read("s1", 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (corrupt line skipped)", len(recs))
	}
	if string(recs[0].Raw) != "one" || string(recs[1].Raw) != "two" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestStats(t *testing.T) {
	s := newStore(t)
	if st, err := s.Stats("empty"); err != nil || st.RecordCount != 0 || st.FileSizeBytes != 0 {
		t.Fatalf("empty stats = %+v err=%v", st, err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	_ = s.Append("s1", []Record{
		rec(now, RecordRaw, "a"),
		rec(now.Add(time.Minute), RecordRaw, "b"),
	})
	st, err := s.Stats("s1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.RecordCount != 2 || st.FileSizeBytes <= 0 {
		t.Fatalf("stats = %+v", st)
	}
	if !st.Oldest.Equal(now) || !st.Newest.Equal(now.Add(time.Minute)) {
		t.Fatalf("timestamps = %+v", st)
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	_ = s.Append("s1", []Record{rec(time.Now(), RecordRaw, "x")})
	if err := s.Delete("s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if recs, _ := s.Read("s1", 0); recs != nil {
		t.Fatalf("log survived delete")
	}
	// Deleting an absent log is fine.
	if err := s.Delete("s1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestRejectsBadSessionID(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"", "../evil", "a/b", `a\b`} {
		if err := s.Append(id, []Record{rec(time.Now(), RecordRaw, "x")}); err == nil {
			t.Fatalf("append accepted bad id %q", id)
		}
	}
}
