// Package dependency wires core memshard services using go.uber.org/dig.
package dependency

import (
	"fmt"

	"go.uber.org/dig"

	"github.com/crystaldolphin/memshard/internal/config"
	"github.com/crystaldolphin/memshard/internal/persist"
	"github.com/crystaldolphin/memshard/internal/providers"
	"github.com/crystaldolphin/memshard/internal/scheduler"
	"github.com/crystaldolphin/memshard/internal/schema"
	"github.com/crystaldolphin/memshard/internal/session"
)

// ServiceContainer holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type ServiceContainer struct {
	cfg       *config.Config
	provider  schema.LLMProvider
	sessions  *session.Manager
	backend   persist.Backend
	chats     *Chats
	scheduler *scheduler.Service
}

func (c *ServiceContainer) Config() *config.Config        { return c.cfg }
func (c *ServiceContainer) Provider() schema.LLMProvider  { return c.provider }
func (c *ServiceContainer) Sessions() *session.Manager    { return c.sessions }
func (c *ServiceContainer) Backend() persist.Backend      { return c.backend }
func (c *ServiceContainer) Chats() *Chats                 { return c.chats }
func (c *ServiceContainer) Scheduler() *scheduler.Service { return c.scheduler }

// Close releases open chats and the range backend.
func (c *ServiceContainer) Close() error {
	c.chats.Close()
	if closer, ok := c.backend.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// LLMModel is a named string type so dig can distinguish it from plain
// strings when injecting the effective model name into the shard generator.
type LLMModel string

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*ServiceContainer, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(newProvider); err != nil {
		return nil, err
	}
	if err := d.Provide(resolveLLMModel); err != nil {
		return nil, err
	}
	if err := d.Provide(newSessionManager); err != nil {
		return nil, err
	}
	if err := d.Provide(newBackend); err != nil {
		return nil, err
	}
	if err := d.Provide(newChats); err != nil {
		return nil, err
	}
	if err := d.Provide(newScheduler); err != nil {
		return nil, err
	}

	var result *ServiceContainer
	err := d.Invoke(func(
		provider schema.LLMProvider,
		sessions *session.Manager,
		backend persist.Backend,
		chats *Chats,
		sched *scheduler.Service,
	) {
		result = &ServiceContainer{
			cfg:       cfg,
			provider:  provider,
			sessions:  sessions,
			backend:   backend,
			chats:     chats,
			scheduler: sched,
		}
	})
	return result, err
}

func newProvider(cfg *config.Config) schema.LLMProvider {
	return providers.New(cfg.ProviderParams())
}

func resolveLLMModel(cfg *config.Config, p schema.LLMProvider) LLMModel {
	m := cfg.Provider.Model
	if m == "" {
		m = p.DefaultModel()
	}
	return LLMModel(m)
}

func newSessionManager(cfg *config.Config) (*session.Manager, error) {
	return session.NewManager(cfg.WorkspacePath())
}

func newBackend(cfg *config.Config) (persist.Backend, error) {
	switch cfg.Storage.Backend {
	case "", "file":
		return persist.NewFileStore(cfg.WorkspacePath())
	case "sqlite":
		return persist.OpenSQLite(cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want file or sqlite)", cfg.Storage.Backend)
	}
}

// newScheduler returns nil when scheduling is disabled.
func newScheduler(cfg *config.Config, chats *Chats) (*scheduler.Service, error) {
	if !cfg.Schedule.Enabled {
		return nil, nil
	}
	return scheduler.New(scheduler.Config{
		Expr:       cfg.Schedule.Expr,
		Sessions:   cfg.Schedule.Sessions,
		ChunkSize:  cfg.Memory.ChunkSize,
		KeepRecent: cfg.Memory.KeepRecent,
	}, chats)
}
