package dependency

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/crystaldolphin/memshard/internal/batch"
	"github.com/crystaldolphin/memshard/internal/config"
	"github.com/crystaldolphin/memshard/internal/keeper"
	"github.com/crystaldolphin/memshard/internal/persist"
	"github.com/crystaldolphin/memshard/internal/ranges"
	"github.com/crystaldolphin/memshard/internal/render"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/session"
	"github.com/crystaldolphin/memshard/internal/shard"
)

// chat is everything opened for one session key.
type chat struct {
	sess    *session.Session
	keeper  *keeper.Keeper
	feed    *render.Feed
	archive *shard.Archive
}

// Chats opens sessions on demand and keeps one keeper per key.
// It implements scheduler.Chats.
type Chats struct {
	cfg      *config.Config
	sessions *session.Manager
	backend  persist.Backend
	provider schema.LLMProvider
	model    LLMModel

	mu    sync.Mutex
	chats map[string]*chat
}

func newChats(cfg *config.Config, sessions *session.Manager, backend persist.Backend, p schema.LLMProvider, m LLMModel) *Chats {
	return &Chats{
		cfg:      cfg,
		sessions: sessions,
		backend:  backend,
		provider: p,
		model:    m,
		chats:    make(map[string]*chat),
	}
}

func (c *Chats) open(key string) (*chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chats[key]; ok {
		return ch, nil
	}

	arc, err := shard.NewArchive(c.cfg.WorkspacePath(), key)
	if err != nil {
		return nil, err
	}
	sess := c.sessions.GetOrCreate(key)
	table := render.NewTable()
	table.Load(sess, 0, sess.Len()-1)
	feed := render.NewFeed(key, table)

	k := keeper.New(key, sess, ranges.NewStore(c.backend.ForChat(key)), feed, c.cfg.VisibilitySettings())
	if _, err := k.Refresh(); err != nil {
		k.Close()
		return nil, fmt.Errorf("load ranges for %s: %w", key, err)
	}

	ch := &chat{sess: sess, keeper: k, feed: feed, archive: arc}
	c.chats[key] = ch
	slog.Debug("chats: opened", "chat", key, "messages", sess.Len())
	return ch, nil
}

// Keeper returns the keeper for key, opening the session if needed.
func (c *Chats) Keeper(key string) (*keeper.Keeper, error) {
	ch, err := c.open(key)
	if err != nil {
		return nil, err
	}
	return ch.keeper, nil
}

// Session returns the session for key, opening it if needed.
func (c *Chats) Session(key string) (*session.Session, error) {
	ch, err := c.open(key)
	if err != nil {
		return nil, err
	}
	return ch.sess, nil
}

// Feed returns the websocket feed for key, opening it if needed.
func (c *Chats) Feed(key string) (*render.Feed, error) {
	ch, err := c.open(key)
	if err != nil {
		return nil, err
	}
	return ch.feed, nil
}

// Archive returns the shard archive for key, opening it if needed.
func (c *Chats) Archive(key string) (*shard.Archive, error) {
	ch, err := c.open(key)
	if err != nil {
		return nil, err
	}
	return ch.archive, nil
}

// BatchOptions returns the generator, saver and memory settings for key.
// The review policy comes from the config; callers replace Reviewer and
// Decider as they need.
func (c *Chats) BatchOptions(key string) (batch.Options, error) {
	if err := c.checkProvider(); err != nil {
		return batch.Options{}, err
	}
	ch, err := c.open(key)
	if err != nil {
		return batch.Options{}, err
	}
	policy, err := c.cfg.ReviewPolicy()
	if err != nil {
		return batch.Options{}, err
	}

	mem := c.cfg.Memory
	return batch.Options{
		Generator:         shard.NewGenerator(c.provider, string(c.model), c.cfg.Provider.MaxTokens, c.cfg.Provider.Temperature),
		Saver:             shard.NewSaver(key, ch.sess, ch.keeper.Store(), ch.archive, mem.InjectShards),
		Policy:            policy,
		MaxPendingResults: mem.MaxPendingResults,
		ExtractKeywords:   mem.ExtractKeywords,
		ExistingShards:    ch.archive.Existing(mem.ExistingShards),
	}, nil
}

func (c *Chats) checkProvider() error {
	if c.cfg.Provider.APIKey != "" {
		return nil
	}
	// local backends run without a key
	if spec := c.cfg.ProviderSpec(); spec != nil && spec.Name == "ollama" {
		return nil
	}
	return fmt.Errorf("no API key configured for model %q, edit %s", c.cfg.Provider.Model, config.ConfigPath())
}

// Persist writes the session for key to disk.
func (c *Chats) Persist(key string) error {
	c.mu.Lock()
	ch, ok := c.chats[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.sessions.Save(ch.sess)
}

// Keys returns the open chat keys, sorted.
func (c *Chats) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.chats))
	for k := range c.chats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FeedHandler serves /feed/<chat> websocket upgrades.
func (c *Chats) FeedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/feed/")
		if key == "" || key == r.URL.Path {
			http.NotFound(w, r)
			return
		}
		feed, err := c.Feed(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		feed.ServeHTTP(w, r)
	})
}

// Close stops every keeper and disconnects feed clients.
func (c *Chats) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ch := range c.chats {
		ch.keeper.Close()
		ch.feed.Close()
		delete(c.chats, key)
	}
}
