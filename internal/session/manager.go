// Package session manages chats stored as JSONL files. A chat is the host
// sequence memshard summarizes.
//
// File format:
//
//	Line 1:  {"_type":"metadata","key":"…","identity":"…","created_at":"…",
//	           "updated_at":"…","metadata":{…}}
//	Line 2+: one JSON message object per line
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// Manager loads and persists sessions as JSONL files.
type Manager struct {
	sessionsDir string   // workspace/sessions/
	cache       sync.Map // key → *Session
}

// Info is the listing entry returned by ListSessions.
type Info struct {
	Key       string
	CreatedAt string
	UpdatedAt string
	Path      string
}

// NewManager creates a Manager rooted at the workspace directory.
// It creates the sessions subdirectory if necessary.
func NewManager(workspace string) (*Manager, error) {
	dir := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	return &Manager{sessionsDir: dir}, nil
}

// GetOrCreate returns the cached session for key, loading from disk if needed,
// or creating an empty new one.
func (m *Manager) GetOrCreate(key string) *Session {
	if v, ok := m.cache.Load(key); ok {
		return v.(*Session)
	}

	s := m.load(key)
	if s == nil {
		s = New(key)
	}

	actual, _ := m.cache.LoadOrStore(key, s)

	return actual.(*Session)
}

// Exists reports whether a session file for key is on disk.
func (m *Manager) Exists(key string) bool {
	_, err := os.Stat(m.sessionPath(key))
	return err == nil
}

// Save writes the session to disk and updates the cache.
func (m *Manager) Save(s *Session) error {
	path := m.sessionPath(s.Key)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	s.mu.Lock()
	msgs := make([]schema.Message, len(s.messages))
	copy(msgs, s.messages)
	meta := map[string]any{
		"_type":      "metadata",
		"key":        s.Key,
		"identity":   s.identity,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
		"metadata":   s.Metadata,
	}
	s.mu.Unlock()

	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	for _, msg := range msgs {
		if err := enc.Encode(messageToWire(msg)); err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace session %s: %w", path, err)
	}

	m.cache.Store(s.Key, s)
	return nil
}

// Invalidate removes a session from the in-memory cache.
func (m *Manager) Invalidate(key string) {
	m.cache.Delete(key)
}

// ListSessions returns metadata for all sessions, sorted newest-first.
func (m *Manager) ListSessions() []Info {
	entries, _ := filepath.Glob(filepath.Join(m.sessionsDir, "*.jsonl"))
	var out []Info

	for _, path := range entries {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		if scanner.Scan() {
			var data map[string]any
			if json.Unmarshal(scanner.Bytes(), &data) == nil &&
				data["_type"] == "metadata" {
				key, _ := data["key"].(string)
				if key == "" {
					// Fall back: derive from filename
					base := filepath.Base(path)
					key = strings.TrimSuffix(base, ".jsonl")
					key = strings.Replace(key, "_", ":", 1)
				}
				created, _ := data["created_at"].(string)
				updated, _ := data["updated_at"].(string)
				out = append(out, Info{Key: key, CreatedAt: created, UpdatedAt: updated, Path: path})
			}
		}
		f.Close()
	}

	// ISO timestamps sort lexicographically.
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })

	return out
}

// ---------------------------------------------------------------------------
// Wire format helpers

// wireMessage is the on-disk JSON representation of a message.
type wireMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	Content   string `json:"content"`
	IsSystem  bool   `json:"is_system,omitempty"`
	Timestamp string `json:"timestamp"`
}

func messageToWire(msg schema.Message) wireMessage {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return wireMessage{
		ID:        msg.ID,
		Role:      msg.Role,
		Name:      msg.Name,
		Content:   msg.Content,
		IsSystem:  msg.IsSystem,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
}

func wireToMessage(w wireMessage) schema.Message {
	msg := schema.Message{
		ID:       w.ID,
		Role:     w.Role,
		Name:     w.Name,
		Content:  w.Content,
		IsSystem: w.IsSystem,
	}
	if t, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
		msg.Timestamp = t
	}
	return msg
}

// ---------------------------------------------------------------------------
// Internal helpers

// sessionPath converts a session key to its JSONL file path.
func (m *Manager) sessionPath(key string) string {
	name := safeFilename(strings.ReplaceAll(key, ":", "_"))
	return filepath.Join(m.sessionsDir, name+".jsonl")
}

// safeFilename replaces filesystem-unsafe characters with underscores.
func safeFilename(name string) string {
	const unsafe = `<>:"/\|?*`
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(unsafe, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// load reads a session from disk, or returns nil when it does not exist or
// cannot be read.
func (m *Manager) load(key string) *Session {
	path := m.sessionPath(key)

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var (
		messages  []schema.Message
		meta      = map[string]any{}
		createdAt time.Time
		identity  string
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20) // 1 MB per line
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var head struct {
			Type      string         `json:"_type"`
			Identity  string         `json:"identity"`
			CreatedAt string         `json:"created_at"`
			Metadata  map[string]any `json:"metadata"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			slog.Warn("skipping malformed session line", "key", key, "err", err)
			continue
		}

		if head.Type == "metadata" {
			if head.Metadata != nil {
				meta = head.Metadata
			}
			identity = head.Identity
			if t, err := time.Parse(time.RFC3339, head.CreatedAt); err == nil {
				createdAt = t
			}
			continue
		}

		var w wireMessage
		if err := json.Unmarshal(line, &w); err != nil {
			slog.Warn("skipping malformed session line", "key", key, "err", err)
			continue
		}
		messages = append(messages, wireToMessage(w))
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("error reading session file", "key", key, "err", err)
		return nil
	}

	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return newLoadedSession(key, identity, messages, createdAt, meta)
}
