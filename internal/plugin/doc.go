// Package plugin manages the lifecycle of host plugins.
//
// A plugin is a directory under the plugin root holding a plugin.json
// manifest and, optionally, code. The manifest declares static
// contributions (commands, sidebar panels, settings, kanban actions, task
// validators and analyzers, context providers, keybindings, menu items)
// and the activation events that should wake the plugin.
//
// # Quick Start
//
//	mgr := plugin.NewManager(plugin.ManagerConfig{
//	    Root:        plugin.DefaultPluginRoot(),
//	    HostVersion: "1.4.0",
//	}, plugin.WithLogger(logger))
//	if err := mgr.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Shutdown(context.Background())
//
//	result, err := mgr.ExecuteCommand(ctx, "hello.say", "world")
//
// # Plugin Structure
//
//	~/.config/plughost/plugins/
//	├── .plugin-state.json   # persisted enable/disable choices
//	├── .storage/            # per-plugin storage directories
//	└── hello/
//	    ├── plugin.json
//	    └── main.lua
//
// The main entry point is loaded by a module.Loader chosen by extension:
// ".lua" files run in a sandboxed gopher-lua state and ".wasm" files run
// under extism. Other loaders can be injected with WithModuleLoader.
//
// # Lifecycle
//
// Records move through these states:
//
//	installed -> loaded -> activating -> active
//	active -> deactivating -> inactive
//	any -> error
//
// Activation registers the manifest's contributions, loads main and calls
// its activate export with a module.Context. Everything the plugin
// registers through that context is released on deactivation, together
// with the static contributions. A failed activation leaves nothing
// registered.
//
// # Concurrency
//
// Manager operations are serialized. Queries such as List and Get may run
// concurrently with an operation and observe transitional states. Plugin
// code never receives the Manager and cannot re-enter it.
package plugin
