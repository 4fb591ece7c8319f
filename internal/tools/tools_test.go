package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherSchema = `{
  "type": "function",
  "function": {
    "name": "get_weather",
    "description": "Weather for a city",
    "parameters": {"type": "object", "properties": {"city": {"type": "string"}}}
  }
}`

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, map[string]any) (any, error) { return "ok", nil }

	require.NoError(t, r.Register("ping", fn))
	err := r.Register("ping", fn)
	assert.ErrorIs(t, err, errDuplicateName)
	assert.ErrorIs(t, r.Register("", fn), errEmptyName)
	assert.ErrorIs(t, r.Register("nil", nil), errNilFunc)

	got, ok := r.Lookup("ping")
	require.True(t, ok)
	out, err := got(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddSchema(Schema{Function: FunctionSpec{Name: "zeta"}}))
	require.NoError(t, r.AddSchema(Schema{Type: "function", Function: FunctionSpec{Name: "alpha"}}))

	schemas := r.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "alpha", schemas[0].Function.Name)
	assert.Equal(t, "function", schemas[1].Type, "type defaults to function")
}

func TestLoadBindsSchemasToFunctions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather.json"), []byte(weatherSchema), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "multi.json"), []byte(`[
	  {"type":"function","function":{"name":"echo"}},
	  {"type":"function","function":{"name":"orphan"}}
	]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	funcs := map[string]Func{
		"get_weather": func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"city": args["city"], "temp": 21}, nil
		},
		"echo": echo,
	}

	reg, err := Load(dir, funcs, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"echo", "get_weather"}, reg.Names())

	var names []string
	for _, s := range reg.Schemas() {
		names = append(names, s.Function.Name)
	}
	assert.Equal(t, []string{"echo", "get_weather", "orphan"}, names)

	fn, ok := reg.Lookup("get_weather")
	require.True(t, ok)
	out, err := fn(context.Background(), map[string]any{"city": "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "Berlin", out.(map[string]any)["city"])
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLoadInvalidSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{not json`), 0o644))

	_, err := Load(dir, nil, nil)
	assert.Error(t, err)
}

func TestBuiltinCalculate(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    float64
		wantErr bool
	}{
		{name: "sum default", args: map[string]any{"numbers": []any{1.0, 2.0, 3.5}}, want: 6.5},
		{name: "product", args: map[string]any{"operation": "product", "numbers": []any{2.0, 4.0}}, want: 8},
		{name: "missing numbers", args: map[string]any{}, wantErr: true},
		{name: "bad operation", args: map[string]any{"operation": "pow", "numbers": []any{1.0}}, wantErr: true},
		{name: "non number", args: map[string]any{"numbers": []any{"x"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := calculate(context.Background(), tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.(map[string]any)["result"])
		})
	}
}

func TestBuiltinCurrentTime(t *testing.T) {
	out, err := currentTime(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "UTC", out.(map[string]any)["timezone"])

	_, err = currentTime(context.Background(), map[string]any{"timezone": "Not/AZone"})
	assert.Error(t, err)
}

func TestBuiltinsCoverShippedSchemas(t *testing.T) {
	dir := filepath.Join("..", "..", "tools")
	if _, err := os.Stat(dir); err != nil {
		t.Skip("tools directory not present")
	}
	reg, err := Load(dir, Builtins(), nil)
	require.NoError(t, err)
	for _, s := range reg.Schemas() {
		_, ok := reg.Lookup(s.Function.Name)
		assert.True(t, ok, "schema %s has no builtin", s.Function.Name)
	}
}
