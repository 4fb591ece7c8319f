package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashureev/assistant-bridge/internal/domain"
)

// Load builds a registry from the schema files in dir and the given function
// bindings. Each *.json file holds one schema, or an array of schemas, in the
// remote service's tool shape. Schemas without a bound function and functions
// without a schema are logged and kept: the former can never be answered, the
// latter are never advertised.
func Load(dir string, funcs map[string]Func, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read tools dir %s: %w: %w", dir, domain.ErrNotFound, err)
		}
		return nil, fmt.Errorf("read tools dir %s: %w: %w", dir, domain.ErrIO, err)
	}

	reg := NewRegistry()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := reg.Register(name, funcs[name]); err != nil {
			return nil, err
		}
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		schemas, err := readSchemaFile(path)
		if err != nil {
			return nil, err
		}
		for _, s := range schemas {
			if err := reg.AddSchema(s); err != nil {
				return nil, fmt.Errorf("tool schema %s: %w", path, err)
			}
			if _, ok := reg.Lookup(s.Function.Name); !ok {
				logger.Warn("Tool schema has no registered function", "tool", s.Function.Name, "file", path)
			}
		}
	}

	advertised := make(map[string]struct{})
	for _, s := range reg.Schemas() {
		advertised[s.Function.Name] = struct{}{}
	}
	for _, name := range reg.Names() {
		if _, ok := advertised[name]; !ok {
			logger.Warn("Registered tool function has no schema", "tool", name)
		}
	}

	logger.Info("Tools loaded", "dir", dir, "functions", len(reg.Names()), "schemas", len(advertised))
	return reg, nil
}

func readSchemaFile(path string) ([]Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool schema %s: %w: %w", path, domain.ErrIO, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var schemas []Schema
		if err := json.Unmarshal(data, &schemas); err != nil {
			return nil, fmt.Errorf("parse tool schema %s: %w", path, err)
		}
		return schemas, nil
	}

	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse tool schema %s: %w", path, err)
	}
	return []Schema{s}, nil
}
