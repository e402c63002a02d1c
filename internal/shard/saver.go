package shard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/schema"
)

// MessageName is the Name of injected shard messages.
const MessageName = "memory"

// IsShard reports whether m is an injected shard message.
func IsShard(m schema.Message) bool {
	return m.Role == "system" && m.Name == MessageName
}

// Host is the part of a host sequence the saver writes to.
type Host interface {
	schema.Host
	Insert(at int, msgs ...schema.Message) ([]schema.Message, error)
}

// Saver stores shards. With Inject set, the shard is also inserted into the
// chat as a system message right after the summarized range, and the range
// store is shifted for it before the summarized range is hidden.
type Saver struct {
	chat    string
	host    Host
	store   *ranges.Store
	archive *Archive
	inject  bool
	hide    ranges.Options
}

// NewSaver returns a Saver for chat. archive may be nil.
func NewSaver(chat string, host Host, store *ranges.Store, archive *Archive, inject bool) *Saver {
	return &Saver{
		chat:    chat,
		host:    host,
		store:   store,
		archive: archive,
		inject:  inject,
		hide:    ranges.Options{Hidden: ranges.Bool(true)},
	}
}

// Save implements schema.Saver.
func (s *Saver) Save(ctx context.Context, req schema.SaveRequest) (schema.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return schema.SaveResult{}, fmt.Errorf("%w: %w", schema.ErrCancelled, err)
	}

	res := schema.SaveResult{Mode: "archive", OutputID: uuid.NewString()}

	if s.inject {
		added, err := s.host.Insert(req.End+1, schema.Message{
			ID:      res.OutputID,
			Role:    "system",
			Name:    MessageName,
			Content: FormatMessage(req.Start, req.End, req.Content),
		})
		if err != nil {
			return schema.SaveResult{}, fmt.Errorf("insert shard: %w", err)
		}
		res.Mode = "system"
		res.InjectedToContext = true
		res.Inserted = true
		res.InsertionIndex = req.End + 1
		res.OutputID = added[0].ID

		// Shift before hiding so a range starting right after the
		// summarized span stays apart from it.
		if _, err := s.store.OnInsert(res.InsertionIndex, 1); err != nil {
			return res, fmt.Errorf("shift ranges: %w", err)
		}
		res.RangesShifted = true
	}

	if _, err := s.store.Hide(req.Start, req.End, s.hide, s.host.Len()); err != nil {
		return res, fmt.Errorf("hide summarized range: %w", err)
	}

	if s.archive != nil {
		err := s.archive.Append(Entry{
			ID:       res.OutputID,
			Chat:     s.chat,
			Start:    req.Start,
			End:      req.End,
			Keywords: req.Keywords,
			Body:     req.Content,
		})
		if err != nil {
			// the shard is already in the chat
			slog.Warn("shard: archive append failed", "chat", s.chat, "err", err)
		}
	}
	return res, nil
}

// FormatMessage renders a shard as the text of the injected message.
func FormatMessage(start, end int, content string) string {
	return fmt.Sprintf("[Memory shard %s]\n%s", ranges.FormatSpan(start, end), content)
}
