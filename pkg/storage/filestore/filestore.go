// Copyright 2026 Hivekit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filestore implements storage.ObjectStore on a directory of JSON
// documents, one file per key. Writes go through a temp file and rename so a
// crash mid-write never leaves a truncated document under the real key.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/storage"
)

const fileExt = ".json"

// Store is a directory-backed ObjectStore.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates a file store rooted at dir, creating it if needed.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Put writes the document atomically (temp file + rename).
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path(key)

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit document: %w", err)
	}
	return nil
}

// Get reads the document for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// Delete removes the document for key; missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// List returns every stored key. Stray files that don't look like documents
// (temp files, foreign extensions) are skipped with a warning.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, fileExt) {
			s.logger.Warn("skipping foreign file in storage dir", zap.String("file", name))
			continue
		}
		keys = append(keys, unescapeKey(strings.TrimSuffix(name, fileExt)))
	}
	return keys, nil
}

// Close is a no-op for the file store.
func (s *Store) Close() error { return nil }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, escapeKey(key)+fileExt)
}

// escapeKey makes an arbitrary key filesystem-safe. Path separators and
// percent signs are percent-encoded; everything else passes through.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '/', '\\', '%':
			fmt.Fprintf(&b, "%%%02X", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeKey(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '%' && i+2 < len(name) {
			var r int
			if _, err := fmt.Sscanf(name[i+1:i+3], "%02X", &r); err == nil {
				b.WriteByte(byte(r))
				i += 2
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

var _ storage.ObjectStore = (*Store)(nil)
