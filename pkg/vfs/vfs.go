// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vfs provides the sandboxed in-memory filesystem sessions hand to
// tools. Paths are relative, slash-separated and may not escape the root.
package vfs

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid path")
	ErrTooLarge    = errors.New("file exceeds size limit")
	ErrQuota       = errors.New("filesystem quota exceeded")
)

const (
	DefaultMaxFileSize  = 10 << 20 // 10MB, per file
	DefaultMaxTotalSize = 64 << 20
)

// FileInfo describes one file without exposing its contents.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

type file struct {
	data    []byte
	modTime time.Time
}

// FS is a flat, mutex-guarded in-memory filesystem. A zero FS is not usable;
// construct with New.
type FS struct {
	mu          sync.RWMutex
	files       map[string]*file
	totalSize   int64
	maxFileSize int64
	maxTotal    int64
}

type Option func(*FS)

func WithMaxFileSize(n int64) Option {
	return func(fs *FS) { fs.maxFileSize = n }
}

func WithMaxTotalSize(n int64) Option {
	return func(fs *FS) { fs.maxTotal = n }
}

func New(opts ...Option) *FS {
	fs := &FS{
		files:       make(map[string]*file),
		maxFileSize: DefaultMaxFileSize,
		maxTotal:    DefaultMaxTotalSize,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// normalize cleans a path and rejects anything that could address state
// outside the sandbox.
func normalize(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute paths not allowed: %s", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path escapes sandbox: %s", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// Write stores data under path, replacing any existing file. The stored
// bytes are copied; callers may reuse the slice.
func (fs *FS) Write(p string, data []byte) error {
	cleaned, err := normalize(p)
	if err != nil {
		return err
	}
	size := int64(len(data))
	if size > fs.maxFileSize {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, cleaned, size, fs.maxFileSize)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var existing int64
	if f, ok := fs.files[cleaned]; ok {
		existing = int64(len(f.data))
	}
	if fs.totalSize-existing+size > fs.maxTotal {
		return fmt.Errorf("%w: writing %s would use %d of %d bytes",
			ErrQuota, cleaned, fs.totalSize-existing+size, fs.maxTotal)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	fs.files[cleaned] = &file{data: buf, modTime: time.Now()}
	fs.totalSize += size - existing
	return nil
}

// Read returns a copy of the file contents; callers may mutate the result.
func (fs *FS) Read(p string) ([]byte, error) {
	cleaned, err := normalize(p)
	if err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	f, ok := fs.files[cleaned]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}
	buf := make([]byte, len(f.data))
	copy(buf, f.data)
	return buf, nil
}

func (fs *FS) Stat(p string) (FileInfo, error) {
	cleaned, err := normalize(p)
	if err != nil {
		return FileInfo{}, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	f, ok := fs.files[cleaned]
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}
	return FileInfo{Path: cleaned, Size: int64(len(f.data)), ModTime: f.modTime}, nil
}

// List returns all files sorted by path.
func (fs *FS) List() []FileInfo {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	infos := make([]FileInfo, 0, len(fs.files))
	for p, f := range fs.files {
		infos = append(infos, FileInfo{Path: p, Size: int64(len(f.data)), ModTime: f.modTime})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

func (fs *FS) Remove(p string) error {
	cleaned, err := normalize(p)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.files[cleaned]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cleaned)
	}
	fs.totalSize -= int64(len(f.data))
	delete(fs.files, cleaned)
	return nil
}

// Snapshot copies the full contents, detached from the live filesystem.
func (fs *FS) Snapshot() map[string][]byte {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make(map[string][]byte, len(fs.files))
	for p, f := range fs.files {
		buf := make([]byte, len(f.data))
		copy(buf, f.data)
		out[p] = buf
	}
	return out
}

// Seed writes every entry of files, typically request attachments. The first
// failing path aborts the load.
func (fs *FS) Seed(files map[string][]byte) error {
	for p, data := range files {
		if err := fs.Write(p, data); err != nil {
			return fmt.Errorf("seeding %s: %w", p, err)
		}
	}
	return nil
}

func (fs *FS) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.files)
}

func (fs *FS) TotalSize() int64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.totalSize
}
