// Package lua runs plugin entry points written in Lua on gopher-lua.
//
// A Lua entry point is a chunk that defines optional global functions:
//
//	function activate(ctx)
//	  ctx.registerCommand("hello.say", function(name)
//	    return "Hello, " .. (name or "world")
//	  end)
//	  ctx.subscribe(function() print("bye") end)
//	end
//
//	function deactivate()
//	end
//
// Only the base, table, string and math libraries are available. require
// loads sibling modules from the plugin directory, and print writes to
// the host log. This is a convenience surface, not an isolation boundary.
package lua
