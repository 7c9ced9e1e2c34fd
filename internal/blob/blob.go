// SPDX-License-Identifier: MIT

// Package blob stores synthesized audio bytes and hands back opaque URLs.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the blob-storage collaborator used by the TTS materializer.
type Store interface {
	// Put writes data under key and returns the URL clients use to fetch it.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes a stored blob. Admin tooling only.
	Delete(ctx context.Context, key string) error
}

// DiskStore keeps blobs on the local filesystem, served by the static file
// handler under /audio/.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates the audio directory if needed.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes the blob atomically via a temp file rename.
func (s *DiskStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	path := filepath.Join(s.dir, key)

	tmp, err := os.CreateTemp(s.dir, "put-*")
	if err != nil {
		return "", fmt.Errorf("blob: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	return s.baseURL + "/audio/" + key, nil
}

// Delete removes a blob by key.
func (s *DiskStore) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	return os.Remove(filepath.Join(s.dir, key))
}

// Dir returns the directory served by the static file handler.
func (s *DiskStore) Dir() string { return s.dir }

// validKey rejects separators and traversal so keys stay flat.
func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, "/\\")
}
