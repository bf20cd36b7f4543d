// Package wasm runs plugin entry points compiled to WebAssembly through
// the Extism SDK.
//
// A module may export:
//
//	activate         input: activation JSON, output: optional {"commands":[...]}
//	deactivate       no input
//	execute_command  input: {"command": id, "args": [...]}, output: JSON result
//
// Every export returns 0 on success. Commands listed in the activate
// output are bound to execute_command.
package wasm

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	extism "github.com/extism/go-sdk"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/dshills/plughost/internal/plugin/module"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Export names.
const (
	ExportActivate       = "activate"
	ExportDeactivate     = "deactivate"
	ExportExecuteCommand = "execute_command"
)

// activationInput is passed to the activate export.
type activationInput struct {
	PluginID     string   `json:"pluginId"`
	PluginPath   string   `json:"pluginPath"`
	ActivationID string   `json:"activationId"`
	HostVersion  string   `json:"hostVersion"`
	StoragePath  string   `json:"storagePath"`
	Permissions  []string `json:"permissions"`
}

// activationOutput is what activate may return.
type activationOutput struct {
	Commands []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"commands"`
}

type commandInput struct {
	Command string `json:"command"`
	Args    []any  `json:"args"`
}

// Loader loads .wasm entry points.
type Loader struct {
	fs         afero.Fs
	logger     *zap.Logger
	enableWASI bool

	mu        sync.Mutex
	instances map[string]*instance
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger receiving plugin log output.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithWASI enables WASI for loaded modules.
func WithWASI(enabled bool) Option {
	return func(ld *Loader) {
		ld.enableWASI = enabled
	}
}

// NewLoader creates a Loader reading modules from fs.
func NewLoader(fs afero.Fs, opts ...Option) *Loader {
	l := &Loader{
		fs:        fs,
		logger:    zap.NewNop(),
		instances: make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("wasm")
	return l
}

// instance serializes calls into one Extism plugin.
type instance struct {
	path   string
	mu     sync.Mutex
	plugin *extism.Plugin
	closed bool
}

// Load implements module.Loader.
func (l *Loader) Load(ctx context.Context, path string) (*module.Exports, error) {
	path = filepath.Clean(path)

	l.mu.Lock()
	inst, ok := l.instances[path]
	l.mu.Unlock()
	if !ok {
		var err error
		if inst, err = l.open(ctx, path); err != nil {
			return nil, err
		}
		l.mu.Lock()
		if existing, raced := l.instances[path]; raced {
			inst.close(ctx)
			inst = existing
		} else {
			l.instances[path] = inst
		}
		l.mu.Unlock()
	}
	return l.exportsFor(inst), nil
}

func (l *Loader) open(ctx context.Context, path string) (*instance, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", module.ErrModuleNotFound, path, err)
	}

	manifest := extism.Manifest{
		Wasm: []extism.Wasm{extism.WasmData{Data: data, Name: filepath.Base(path)}},
	}
	config := extism.PluginConfig{EnableWasi: l.enableWASI}
	logger := l.logger.With(zap.String("module", path))

	plugin, err := extism.NewPlugin(ctx, manifest, config, []extism.HostFunction{newLogFunction(logger)})
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate wasm module %s: %w", path, err)
	}
	plugin.SetLogger(func(level extism.LogLevel, msg string) {
		logger.Debug(msg, zap.Any("level", level))
	})
	return &instance{path: path, plugin: plugin}, nil
}

// call invokes export name when the module defines it. ok is false when
// the export is absent.
func (i *instance) call(ctx context.Context, name string, input []byte) (out []byte, ok bool, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, false, ErrClosed
	}
	if !i.plugin.FunctionExists(name) {
		return nil, false, nil
	}
	rc, out, err := i.plugin.CallWithContext(ctx, name, input)
	if rc != 0 {
		return nil, true, &ExitError{Export: name, Code: rc, Err: err}
	}
	if err != nil {
		return nil, true, fmt.Errorf("wasm export %s: %w", name, err)
	}
	// The output buffer belongs to the plugin and is reused on the next call.
	return append([]byte(nil), out...), true, nil
}

func (i *instance) close(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.closed = true
	_ = i.plugin.Close(ctx)
}

func (l *Loader) exportsFor(inst *instance) *module.Exports {
	return &module.Exports{
		Activate: func(ctx context.Context, pctx *module.Context) error {
			input, err := json.Marshal(activationInput{
				PluginID:     pctx.PluginID,
				PluginPath:   pctx.PluginPath,
				ActivationID: pctx.ActivationID,
				HostVersion:  pctx.HostVersion,
				StoragePath:  pctx.StoragePath,
				Permissions:  pctx.Permissions,
			})
			if err != nil {
				return fmt.Errorf("failed to encode activation input: %w", err)
			}
			out, ok, err := inst.call(ctx, ExportActivate, input)
			if err != nil || !ok || len(out) == 0 {
				return err
			}

			var result activationOutput
			if err := json.Unmarshal(out, &result); err != nil {
				return fmt.Errorf("failed to decode activate output: %w", err)
			}
			for _, c := range result.Commands {
				id := c.ID
				pctx.RegisterCommand(id, c.Title, func(ctx context.Context, args ...any) (any, error) {
					return executeCommand(ctx, inst, id, args)
				})
			}
			return nil
		},
		Deactivate: func(ctx context.Context) error {
			_, _, err := inst.call(ctx, ExportDeactivate, nil)
			return err
		},
	}
}

func executeCommand(ctx context.Context, inst *instance, id string, args []any) (any, error) {
	input, err := json.Marshal(commandInput{Command: id, Args: args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode command input: %w", err)
	}
	out, ok, err := inst.call(ctx, ExportExecuteCommand, input)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("wasm module %s does not export %s", inst.path, ExportExecuteCommand)
	}
	if len(out) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("failed to decode command result: %w", err)
	}
	return result, nil
}

// Invalidate implements module.Loader by closing the instance for path.
func (l *Loader) Invalidate(path string) {
	path = filepath.Clean(path)
	l.mu.Lock()
	inst, ok := l.instances[path]
	delete(l.instances, path)
	l.mu.Unlock()
	if ok {
		inst.close(context.Background())
	}
}

// Close closes every loaded instance.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	instances := l.instances
	l.instances = make(map[string]*instance)
	l.mu.Unlock()
	for _, inst := range instances {
		inst.close(ctx)
	}
	return nil
}

// newLogFunction lets modules write to the host log:
// plughost_log(level i32, msg ptr).
func newLogFunction(logger *zap.Logger) extism.HostFunction {
	fn := extism.NewHostFunctionWithStack(
		"plughost_log",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			msg, err := p.ReadString(stack[1])
			if err != nil {
				logger.Warn("plughost_log: failed to read message", zap.Error(err))
				return
			}
			switch int32(stack[0]) {
			case 0:
				logger.Debug(msg)
			case 2:
				logger.Warn(msg)
			case 3:
				logger.Error(msg)
			default:
				logger.Info(msg)
			}
		},
		[]extism.ValueType{extism.ValueTypeI32, extism.ValueTypePTR},
		[]extism.ValueType{},
	)
	fn.SetNamespace("env")
	return fn
}
