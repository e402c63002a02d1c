// Package persist provides the on-disk backends for range collections.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crystaldolphin/memshard/internal/ranges"
)

// Backend hands out the range persistence of one chat.
type Backend interface {
	ForChat(key string) ranges.Persistence
}

// FileStore keeps one JSON file per chat under <workspace>/ranges/.
type FileStore struct {
	dir string
}

// NewFileStore creates the ranges directory under workspace.
func NewFileStore(workspace string) (*FileStore, error) {
	dir := filepath.Join(workspace, "ranges")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ranges dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// ForChat returns the persistence for chat key.
func (f *FileStore) ForChat(key string) ranges.Persistence {
	return &chatFile{path: filepath.Join(f.dir, fileKey(key)+".json")}
}

type chatFile struct {
	path string
}

func (c *chatFile) Ranges() ([]ranges.Range, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}
	var rs []ranges.Range
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.path, err)
	}
	return rs, nil
}

func (c *chatFile) SaveRanges(rs []ranges.Range) error {
	if rs == nil {
		rs = []ranges.Range{}
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ranges: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace %s: %w", c.path, err)
	}
	return nil
}

// fileKey maps a chat key to a filesystem-safe name.
func fileKey(key string) string {
	const unsafe = `<>:"/\|?* `
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(unsafe, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
