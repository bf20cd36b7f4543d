package lua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type sample struct {
	Name    string   `json:"name"`
	Tags    []string `json:"tags,omitempty"`
	Skipped string   `json:"-"`
	Count   int
	hidden  bool
}

func TestToLuaAndBack(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"int", 42, int64(42)},
		{"uint8", uint8(7), int64(7)},
		{"float", 1.5, 1.5},
		{"string", "hi", "hi"},
		{"bytes", []byte("raw"), "raw"},
		{"strings", []string{"a", "b"}, []any{"a", "b"}},
		{"map", map[string]any{"k": 1, "n": map[string]int{"x": 2}}, map[string]any{"k": int64(1), "n": map[string]any{"x": int64(2)}}},
		{"empty slice", []int{}, map[string]any{}},
		{"struct", sample{Name: "n", Tags: []string{"t"}, Skipped: "s", Count: 3}, map[string]any{"name": "n", "tags": []any{"t"}, "Count": int64(3)}},
		{"pointer", &sample{Name: "p"}, map[string]any{"name": "p", "tags": map[string]any{}, "Count": int64(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToGo(ToLua(L, tt.in)))
		})
	}
}

func TestToGoTables(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	require.NoError(t, L.DoString(`
seq = {1, 2, 3}
sparse = {[1] = "a", [3] = "c"}
mixed = {1, key = "v"}
cyclic = {}
cyclic.self = cyclic
fn = function() end
`))

	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ToGo(L.GetGlobal("seq")))
	assert.Equal(t, map[string]any{"1": "a", "3": "c"}, ToGo(L.GetGlobal("sparse")))
	assert.Equal(t, map[string]any{"1": int64(1), "key": "v"}, ToGo(L.GetGlobal("mixed")))
	assert.Equal(t, map[string]any{"self": nil}, ToGo(L.GetGlobal("cyclic")))
	assert.Nil(t, ToGo(L.GetGlobal("fn")))
}
