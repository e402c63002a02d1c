package shard

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one archived shard.
type Entry struct {
	ID       string    `yaml:"id"`
	Chat     string    `yaml:"chat"`
	Start    int       `yaml:"start"`
	End      int       `yaml:"end"`
	Keywords []string  `yaml:"keywords,omitempty"`
	Created  time.Time `yaml:"created"`
	Body     string    `yaml:"-"`
}

// Archive keeps one markdown file per shard under
// <workspace>/shards/<chat>/, each starting with YAML front matter.
type Archive struct {
	dir string
	mu  sync.Mutex
}

// NewArchive creates the archive directory for chat under workspace.
func NewArchive(workspace, chat string) (*Archive, error) {
	dir := filepath.Join(workspace, "shards", safeName(chat))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shards dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Append writes e as the next shard file.
func (a *Archive) Append(e Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	names, err := a.files()
	if err != nil {
		return err
	}
	if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}

	front, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n")
	buf.WriteString(strings.TrimRight(e.Body, " \t\r\n"))
	buf.WriteString("\n")

	path := filepath.Join(a.dir, fmt.Sprintf("%05d.md", len(names)+1))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write shard: %w", err)
	}
	return nil
}

// Entries returns every archived shard in the order it was written.
// Unreadable files are skipped.
func (a *Archive) Entries() ([]Entry, error) {
	a.mu.Lock()
	names, err := a.files()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(a.dir, name))
		if err != nil {
			continue
		}
		e, err := parseEntry(data)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Existing returns the bodies of the last limit shards, oldest first. A
// limit <= 0 returns all of them.
func (a *Archive) Existing(limit int) []string {
	entries, err := a.Entries()
	if err != nil {
		return nil
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Body
	}
	return out
}

func (a *Archive) files() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, "*.md"))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	sort.Strings(names)
	return names, nil
}

func parseEntry(data []byte) (Entry, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	rest, ok := strings.CutPrefix(text, "---\n")
	if !ok {
		return Entry{}, fmt.Errorf("missing front matter")
	}
	front, body, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return Entry{}, fmt.Errorf("unterminated front matter")
	}
	var e Entry
	if err := yaml.Unmarshal([]byte(front), &e); err != nil {
		return Entry{}, fmt.Errorf("parse front matter: %w", err)
	}
	e.Body = strings.TrimSpace(body)
	return e, nil
}

func safeName(name string) string {
	const unsafe = `<>:"/\|?* `
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(unsafe, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
