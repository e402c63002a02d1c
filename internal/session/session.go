package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// ErrIndexOutOfRange is returned by structural mutations with bad bounds.
var ErrIndexOutOfRange = errors.New("index out of range")

// Session holds one chat's messages and metadata. It implements
// schema.Host and schema.Observable.
//
// Subscribers are called synchronously after each structural mutation, on
// the mutating goroutine, with the session unlocked.
type Session struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]any

	identity string
	messages []schema.Message
	version  uint64

	subs    map[int]func(schema.Event)
	nextSub int

	mu sync.Mutex
}

// New returns an empty session with a fresh identity token.
func New(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
		identity:  uuid.NewString(),
	}
}

// newLoadedSession restores a session read from disk. Messages without an
// ID get one so anchors always resolve.
func newLoadedSession(key, identity string, msgs []schema.Message, createdAt time.Time, meta map[string]any) *Session {
	if identity == "" {
		identity = uuid.NewString()
	}
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
	}
	return &Session{
		Key:       key,
		CreatedAt: createdAt,
		UpdatedAt: time.Now(),
		Metadata:  meta,
		identity:  identity,
		messages:  msgs,
	}
}

// Identity returns the token identifying this chat.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Version returns the structural version counter.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Len returns the number of messages in the session.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// IDs returns the stable ID of every message in order.
func (s *Session) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.ID
	}
	return out
}

// IndexOf returns the current position of the message with the given ID,
// or -1.
func (s *Session) IndexOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Messages returns copies of the messages in [start, end], clamped.
func (s *Session) Messages(start, end int) []schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start < 0 {
		start = 0
	}
	if end > len(s.messages)-1 {
		end = len(s.messages) - 1
	}
	if start > end {
		return nil
	}
	out := make([]schema.Message, end-start+1)
	copy(out, s.messages[start:end+1])
	return out
}

// Snapshot returns a copy of every message.
func (s *Session) Snapshot() []schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetSystem updates the hidden flag of the message at index.
func (s *Session) SetSystem(index int, isSystem bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.messages) {
		return false
	}
	if s.messages[index].IsSystem == isSystem {
		return false
	}
	s.messages[index].IsSystem = isSystem
	s.UpdatedAt = time.Now()
	return true
}

// Append adds a message at the end and returns it with its assigned ID.
func (s *Session) Append(role, name, content string) schema.Message {
	out, _ := s.insert(-1, []schema.Message{{Role: role, Name: name, Content: content}})
	return out[0]
}

// Insert places msgs before index at (at == Len() appends). Messages
// without an ID are assigned one. The inserted messages are returned.
func (s *Session) Insert(at int, msgs ...schema.Message) ([]schema.Message, error) {
	if at < 0 {
		return nil, fmt.Errorf("%w: insert at %d", ErrIndexOutOfRange, at)
	}
	return s.insert(at, msgs)
}

// insert places msgs at index at; a negative at appends.
func (s *Session) insert(at int, msgs []schema.Message) ([]schema.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if at < 0 {
		at = len(s.messages)
	}
	if at > len(s.messages) {
		n := len(s.messages)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: insert at %d, length %d", ErrIndexOutOfRange, at, n)
	}

	now := time.Now()
	added := make([]schema.Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		added[i] = m
	}

	next := make([]schema.Message, 0, len(s.messages)+len(added))
	next = append(next, s.messages[:at]...)
	next = append(next, added...)
	next = append(next, s.messages[at:]...)
	s.messages = next
	s.version++
	s.UpdatedAt = now
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, schema.Event{Kind: schema.EventInserted, Index: at, Count: len(added)})
	return added, nil
}

// Delete removes the messages in [start, end].
func (s *Session) Delete(start, end int) error {
	s.mu.Lock()
	if start < 0 || end < start || end >= len(s.messages) {
		n := len(s.messages)
		s.mu.Unlock()
		return fmt.Errorf("%w: delete %d-%d, length %d", ErrIndexOutOfRange, start, end, n)
	}

	next := make([]schema.Message, 0, len(s.messages)-(end-start+1))
	next = append(next, s.messages[:start]...)
	next = append(next, s.messages[end+1:]...)
	s.messages = next
	s.version++
	s.UpdatedAt = time.Now()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, schema.Event{Kind: schema.EventDeleted, Index: -1, Count: end - start + 1})
	return nil
}

// Clear removes every message. Subscribers see one deletion of the whole
// sequence.
func (s *Session) Clear() {
	n := s.Len()
	if n == 0 {
		return
	}
	_ = s.Delete(0, n-1)
}

// Subscribe registers fn for structural events.
func (s *Session) Subscribe(fn func(schema.Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func(schema.Event))
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) subscribersLocked() []func(schema.Event) {
	if len(s.subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(schema.Event), len(ids))
	for i, id := range ids {
		out[i] = s.subs[id]
	}
	return out
}

func notify(subs []func(schema.Event), ev schema.Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
