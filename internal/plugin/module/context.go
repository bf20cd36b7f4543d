package module

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/registry"
)

// Disposer releases something a plugin acquired during activation.
type Disposer func() error

// ContextConfig describes one activation.
type ContextConfig struct {
	PluginID     string
	PluginPath   string
	ActivationID string
	HostVersion  string
	StoragePath  string
	Permissions  []string
	Logger       *zap.Logger
	Registry     *registry.Registry
}

// Context is what plugin code receives on activation. It exposes the
// registry scoped to the plugin and tracks disposers.
type Context struct {
	PluginID     string
	PluginPath   string
	ActivationID string
	HostVersion  string
	StoragePath  string
	Permissions  []string
	Logger       *zap.Logger

	registry *registry.Registry

	mu        sync.Mutex
	disposers []Disposer
	disposed  bool
}

// NewContext creates an activation context.
func NewContext(cfg ContextConfig) *Context {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		PluginID:     cfg.PluginID,
		PluginPath:   cfg.PluginPath,
		ActivationID: cfg.ActivationID,
		HostVersion:  cfg.HostVersion,
		StoragePath:  cfg.StoragePath,
		Permissions:  slices.Clone(cfg.Permissions),
		Logger:       logger,
		registry:     cfg.Registry,
	}
}

// Subscribe adds d to the disposers run on deactivation. If the context
// is already disposed, d runs immediately.
func (c *Context) Subscribe(d Disposer) {
	if d == nil {
		return
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		if err := d(); err != nil {
			c.Logger.Warn("late disposer failed", zap.Error(err))
		}
		return
	}
	c.disposers = append(c.disposers, d)
	c.mu.Unlock()
}

// Subscriptions returns the number of pending disposers.
func (c *Context) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.disposers)
}

// Dispose runs every disposer in reverse order. Each runs regardless of
// earlier failures; failures are logged and returned joined.
func (c *Context) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	ds := c.disposers
	c.disposers = nil
	c.mu.Unlock()

	var errs []error
	for i := len(ds) - 1; i >= 0; i-- {
		if err := runDisposer(ds[i]); err != nil {
			c.Logger.Warn("disposer failed", zap.String("plugin", c.PluginID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runDisposer(d Disposer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return d()
}

// PanicError wraps a value recovered from plugin code.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "plugin code panicked: " + panicString(e.Value)
}

func panicString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return "non-error value"
	}
}

func (c *Context) unregisterOnDispose(kind registry.Kind, id string) {
	c.Subscribe(func() error {
		_, err := c.registry.Unregister(kind, id, c.PluginID)
		return err
	})
}

// RegisterCommand binds handler to command id. When the plugin declared the
// command in its manifest, the declaration is kept.
func (c *Context) RegisterCommand(id, title string, handler registry.CommandHandler) {
	c.registry.BindCommandHandler(c.PluginID, id, title, handler)
	c.unregisterOnDispose(registry.KindCommand, id)
}

// RegisterTaskValidator registers a task validator implementation.
func (c *Context) RegisterTaskValidator(id string, fn registry.TaskValidateFunc) {
	c.registry.BindTaskValidator(c.PluginID, id, fn)
	c.unregisterOnDispose(registry.KindTaskValidator, id)
}

// RegisterTaskAnalyzer registers a task analyzer implementation.
func (c *Context) RegisterTaskAnalyzer(id string, fn registry.TaskAnalyzeFunc) {
	c.registry.BindTaskAnalyzer(c.PluginID, id, fn)
	c.unregisterOnDispose(registry.KindTaskAnalyzer, id)
}

// RegisterContextProvider registers a context provider implementation.
func (c *Context) RegisterContextProvider(id string, priority int, fn registry.ContextProvideFunc) {
	c.registry.BindContextProvider(c.PluginID, id, priority, fn)
	c.unregisterOnDispose(registry.KindContextProvider, id)
}

// RegisterHook attaches fn to a hook point until deactivation.
func (c *Context) RegisterHook(hook registry.Hook, priority int, fn registry.HookFunc) error {
	reg, err := c.registry.RegisterHook(c.PluginID, hook, priority, fn)
	if err != nil {
		return err
	}
	c.Subscribe(func() error {
		c.registry.UnregisterHook(reg.ID)
		return nil
	})
	return nil
}

// ExecuteCommand runs a registered command.
func (c *Context) ExecuteCommand(ctx context.Context, id string, args ...any) (any, error) {
	return c.registry.ExecuteCommand(ctx, id, args...)
}

// HasPermission reports whether the plugin declared p. Nothing enforces it.
func (c *Context) HasPermission(p manifest.Permission) bool {
	return slices.Contains(c.Permissions, string(p))
}
