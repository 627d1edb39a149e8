// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/lowroll/internal/apperr"
)

// FileStore keeps one JSON document per section on local disk. Writes go
// through an atomic rename so readers never observe a torn file. It is a
// single-process store: a process-wide mutex per section is the only
// coordination.
type FileStore struct {
	dir    string
	prefix string

	mu       sync.Mutex
	sections map[string]map[string]json.RawMessage
}

// NewFileStore opens (or creates) a file store rooted at dir. prefix becomes
// part of each section's file name so multiple logical stores can share a
// directory.
func NewFileStore(dir, prefix string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create store directory", err)
	}
	return &FileStore{
		dir:      dir,
		prefix:   prefix,
		sections: make(map[string]map[string]json.RawMessage),
	}, nil
}

func (s *FileStore) sectionPath(section string) string {
	name := section + ".json"
	if s.prefix != "" {
		name = s.prefix + "-" + name
	}
	return filepath.Join(s.dir, name)
}

// loadLocked reads a section into the cache. Callers hold s.mu.
func (s *FileStore) loadLocked(section string) (map[string]json.RawMessage, error) {
	if docs, ok := s.sections[section]; ok {
		return docs, nil
	}
	docs := make(map[string]json.RawMessage)
	raw, err := os.ReadFile(s.sectionPath(section))
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "decode section "+section, err)
		}
	case os.IsNotExist(err):
		// fresh section
	default:
		return nil, apperr.Wrap(apperr.KindTransient, "read section "+section, err)
	}
	s.sections[section] = docs
	return docs, nil
}

// flushLocked persists a section atomically. Callers hold s.mu.
func (s *FileStore) flushLocked(section string) error {
	docs := s.sections[section]
	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encode section "+section, err)
	}
	if err := renameio.WriteFile(s.sectionPath(section), raw, 0o640); err != nil {
		return apperr.Wrap(apperr.KindTransient, "write section "+section, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, section, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.loadLocked(section)
	if err != nil {
		return nil, err
	}
	doc, ok := docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (s *FileStore) Put(ctx context.Context, section, key string, doc []byte) error {
	if !json.Valid(doc) {
		return apperr.E(apperr.KindBadRequest, "document is not valid JSON")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.loadLocked(section)
	if err != nil {
		return err
	}
	cp := make(json.RawMessage, len(doc))
	copy(cp, doc)
	docs[key] = cp
	return s.flushLocked(section)
}

func (s *FileStore) Delete(ctx context.Context, section, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.loadLocked(section)
	if err != nil {
		return err
	}
	if _, ok := docs[key]; !ok {
		return nil
	}
	delete(docs, key)
	return s.flushLocked(section)
}

func (s *FileStore) ListKeys(ctx context.Context, section, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.loadLocked(section)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(docs))
	for k := range docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Scan(ctx context.Context, section, prefix string, fn func(key string, doc []byte) error) error {
	keys, err := s.ListKeys(ctx, section, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		doc, err := s.Get(ctx, section, k)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return err
		}
		if err := fn(k, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Info(ctx context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	pattern := "*.json"
	if s.prefix != "" {
		pattern = s.prefix + "-*.json"
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
	if err != nil {
		return Info{}, apperr.Wrap(apperr.KindInternal, "glob sections", err)
	}
	for _, m := range matches {
		section := strings.TrimSuffix(filepath.Base(m), ".json")
		if s.prefix != "" {
			section = strings.TrimPrefix(section, s.prefix+"-")
		}
		docs, err := s.loadLocked(section)
		if err != nil {
			continue
		}
		counts[section] = len(docs)
	}
	for section, docs := range s.sections {
		counts[section] = len(docs)
	}
	return Info{Backend: "file", Prefix: s.prefix, SectionCounts: counts}, nil
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
