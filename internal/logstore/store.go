package logstore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists per-session interaction logs as line-delimited JSON files
// under a single application-owned directory. One file per session, named by
// the session id. Each line is independently parseable; a corrupt line is
// skipped on read and never invalidates the rest of the file.
type Store struct {
	dir string
}

var errBadSessionID = errors.New("invalid session id")

// New creates the store directory if needed.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("empty log dir")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's base directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(session string) (string, error) {
	if session == "" || strings.ContainsAny(session, `/\`) || strings.Contains(session, "..") {
		return "", errBadSessionID
	}
	return filepath.Join(s.dir, session+".log.jsonl"), nil
}

// Append serializes records and appends them to the session's log in one
// write. Called only from the flush path, never from the hot stream path.
func (s *Store) Append(session string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	p, err := s.path(session)
	if err != nil {
		return err
	}
	var buf []byte
	for _, r := range recs {
		line, err := json.Marshal(r)
		if err != nil {
			continue
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

// Read returns the session's persisted records in file order. limit <= 0
// returns everything; otherwise the most recent limit records are returned.
// Unparseable lines are skipped.
func (s *Store) Read(session string, limit int) ([]Record, error) {
	p, err := s.path(session)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		recs = append(recs, r)
	}
	if err := sc.Err(); err != nil {
		return recs, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return recs, nil
}

// Stats reports record count, file size, and the oldest/newest timestamps.
func (s *Store) Stats(session string) (Stats, error) {
	p, err := s.path(session)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if fi, err := os.Stat(p); err == nil {
		st.FileSizeBytes = fi.Size()
	} else if os.IsNotExist(err) {
		return st, nil
	} else {
		return st, err
	}
	recs, err := s.Read(session, 0)
	if err != nil {
		return st, err
	}
	st.RecordCount = len(recs)
	if len(recs) > 0 {
		st.Oldest = recs[0].Timestamp
		st.Newest = recs[len(recs)-1].Timestamp
	}
	return st, nil
}

// Rewrite atomically replaces the session's log with recs.
func (s *Store) Rewrite(session string, recs []Record) error {
	p, err := s.path(session)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range recs {
		line, err := json.Marshal(r)
		if err != nil {
			continue
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

// Delete removes the session's log file wholesale.
func (s *Store) Delete(session string) error {
	p, err := s.path(session)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
