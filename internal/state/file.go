package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/goalsync/internal/syncer"
)

const fileVersion = 1

type fileDoc struct {
	Version int      `yaml:"version"`
	Entries []record `yaml:"entries"`
}

// File keeps state in a YAML document. Every Put rewrites the document
// atomically and keeps the previous version as <path>.bak.
type File struct {
	path string

	mu      sync.Mutex
	entries map[key]record
}

// OpenFile loads the document at path. A missing file is an empty store.
func OpenFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	f := &File{path: path, entries: make(map[key]record)}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if doc.Version > fileVersion {
		return nil, fmt.Errorf("state file %s has unsupported version %d", path, doc.Version)
	}
	for _, r := range doc.Entries {
		if r.GoalID == "" || r.TicketKey == "" {
			continue
		}
		f.entries[key{r.GoalID, r.TicketKey}] = r
	}
	return f, nil
}

// Get implements syncer.StateStore.
func (f *File) Get(_ context.Context, goalID, ticketKey string) (syncer.SyncState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.entries[key{goalID, ticketKey}]
	if !ok {
		return syncer.SyncState{}, false, nil
	}
	return r.toState(), true, nil
}

// Put implements syncer.StateStore. The in-memory view is only updated once
// the file has been replaced.
func (f *File) Put(_ context.Context, s syncer.SyncState) error {
	if err := validateKey(s.GoalID, s.TicketKey); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	k := key{s.GoalID, s.TicketKey}
	prev, had := f.entries[k]
	f.entries[k] = toRecord(s)
	if err := f.flush(); err != nil {
		if had {
			f.entries[k] = prev
		} else {
			delete(f.entries, k)
		}
		return err
	}
	return nil
}

// Close is a no-op; every Put is already durable.
func (f *File) Close() error { return nil }

func (f *File) flush() error {
	doc := fileDoc{Version: fileVersion, Entries: make([]record, 0, len(f.entries))}
	for _, r := range f.entries {
		doc.Entries = append(doc.Entries, r)
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		a, b := doc.Entries[i], doc.Entries[j]
		if a.GoalID != b.GoalID {
			return a.GoalID < b.GoalID
		}
		return a.TicketKey < b.TicketKey
	})

	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return atomicWrite(f.path, content)
}

// atomicWrite replaces path via a synced temp file in the same directory.
func atomicWrite(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".goalsync-state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
