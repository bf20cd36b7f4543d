package wasm

import (
	"context"
	"slices"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plughost/internal/plugin/module"
	"github.com/dshills/plughost/internal/plugin/registry"
)

// buildModule assembles a WebAssembly binary whose exports are
// zero-argument functions returning the given i32 constants (0..63).
func buildModule(exports map[string]byte) []byte {
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	slices.Sort(names)

	section := func(id byte, body []byte) []byte {
		return append([]byte{id, byte(len(body))}, body...)
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	// One type: () -> i32.
	out = append(out, section(0x01, []byte{0x01, 0x60, 0x00, 0x01, 0x7f})...)

	funcs := []byte{byte(len(names))}
	for range names {
		funcs = append(funcs, 0x00)
	}
	out = append(out, section(0x03, funcs)...)

	exp := []byte{byte(len(names))}
	for i, name := range names {
		exp = append(exp, byte(len(name)))
		exp = append(exp, name...)
		exp = append(exp, 0x00, byte(i))
	}
	out = append(out, section(0x07, exp)...)

	code := []byte{byte(len(names))}
	for _, name := range names {
		// locals: 0, i32.const v, end
		code = append(code, 0x04, 0x00, 0x41, exports[name], 0x0b)
	}
	out = append(out, section(0x0a, code)...)
	return out
}

func newContext(reg *registry.Registry) *module.Context {
	return module.NewContext(module.ContextConfig{
		PluginID:    "wasmy",
		PluginPath:  "/plugins/wasmy",
		HostVersion: "1.0.0",
		Registry:    reg,
	})
}

func writeModule(t *testing.T, fs afero.Fs, path string, exports map[string]byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, buildModule(exports), 0o644))
}

func TestLoaderActivateAndDeactivate(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/plugins/wasmy/plugin.wasm", map[string]byte{
		ExportActivate:   0,
		ExportDeactivate: 0,
	})

	ld := NewLoader(fs)
	defer ld.Close(context.Background())
	ctx := context.Background()

	ex, err := ld.Load(ctx, "/plugins/wasmy/plugin.wasm")
	require.NoError(t, err)
	require.NoError(t, ex.Activate(ctx, newContext(registry.New())))
	require.NoError(t, ex.Deactivate(ctx))
}

func TestLoaderMissingExportsAreNoops(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/p/empty.wasm", map[string]byte{"unrelated": 0})

	ld := NewLoader(fs)
	defer ld.Close(context.Background())
	ctx := context.Background()

	ex, err := ld.Load(ctx, "/p/empty.wasm")
	require.NoError(t, err)
	assert.NoError(t, ex.Activate(ctx, newContext(registry.New())))
	assert.NoError(t, ex.Deactivate(ctx))

	_, err = executeCommand(ctx, ld.instances["/p/empty.wasm"], "x", nil)
	assert.ErrorContains(t, err, "does not export execute_command")
}

func TestLoaderNonZeroExit(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/p/fails.wasm", map[string]byte{ExportActivate: 3})

	ld := NewLoader(fs)
	defer ld.Close(context.Background())
	ctx := context.Background()

	ex, err := ld.Load(ctx, "/p/fails.wasm")
	require.NoError(t, err)
	err = ex.Activate(ctx, newContext(registry.New()))
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, ExportActivate, exit.Export)
	assert.Equal(t, uint32(3), exit.Code)
}

func TestLoaderInvalidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/p/m.wasm", map[string]byte{ExportActivate: 0})

	ld := NewLoader(fs)
	ctx := context.Background()

	first, err := ld.Load(ctx, "/p/m.wasm")
	require.NoError(t, err)
	ld.Invalidate("/p/m.wasm")
	assert.ErrorIs(t, first.Activate(ctx, newContext(registry.New())), ErrClosed)

	second, err := ld.Load(ctx, "/p/m.wasm")
	require.NoError(t, err)
	assert.NoError(t, second.Activate(ctx, newContext(registry.New())))
	require.NoError(t, ld.Close(ctx))
}

func TestLoaderErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/p/garbage.wasm", []byte("not wasm"), 0o644))

	ld := NewLoader(fs)
	ctx := context.Background()

	_, err := ld.Load(ctx, "/p/missing.wasm")
	assert.ErrorIs(t, err, module.ErrModuleNotFound)

	_, err = ld.Load(ctx, "/p/garbage.wasm")
	assert.ErrorContains(t, err, "failed to instantiate wasm module")
}
