// Package assistant keeps the remote assistant definition in sync with the
// local tool, resource and definition artifacts.
package assistant

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/ashureev/assistant-bridge/internal/tools"
	"gopkg.in/yaml.v3"
)

const (
	definitionFileName = "assistant.yaml"
	defaultName        = "Assistant Bridge"
	defaultModel       = "gpt-4-1106-preview"
)

// Definition is the locally authored description of the remote assistant.
type Definition struct {
	Name             string         `yaml:"name"`
	Model            string         `yaml:"model"`
	Instructions     string         `yaml:"instructions"`
	InstructionsFile string         `yaml:"instructions_file"`
	Retrieval        *bool          `yaml:"retrieval"`
	Tools            []tools.Schema `yaml:"-"`
}

// RetrievalEnabled reports whether attached files should be searchable by the assistant.
func (d Definition) RetrievalEnabled() bool {
	return d.Retrieval == nil || *d.Retrieval
}

// LoadDefinition reads the definition at path. path may name the YAML file
// itself or the directory containing assistant.yaml. Instructions may be
// inline or read from instructions_file, resolved relative to the YAML file.
func LoadDefinition(path string) (Definition, error) {
	file := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		file = filepath.Join(path, definitionFileName)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Definition{}, fmt.Errorf("read assistant definition %s: %w: %w", file, domain.ErrNotFound, err)
		}
		return Definition{}, fmt.Errorf("read assistant definition %s: %w: %w", file, domain.ErrIO, err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse assistant definition %s: %w", file, err)
	}

	if def.InstructionsFile != "" {
		instrPath := def.InstructionsFile
		if !filepath.IsAbs(instrPath) {
			instrPath = filepath.Join(filepath.Dir(file), instrPath)
		}
		raw, err := os.ReadFile(instrPath)
		if err != nil {
			return Definition{}, fmt.Errorf("read assistant instructions %s: %w: %w", instrPath, domain.ErrIO, err)
		}
		def.Instructions = string(raw)
	}

	if def.Name == "" {
		def.Name = defaultName
	}
	if def.Model == "" {
		def.Model = defaultModel
	}
	if strings.TrimSpace(def.Instructions) == "" {
		return Definition{}, fmt.Errorf("assistant definition %s: instructions are empty", file)
	}
	return def, nil
}

// LoadDefinitionWithTools loads the definition at path and advertises every
// tool schema found in toolsDir. Schemas are read fresh on each call.
func LoadDefinitionWithTools(path, toolsDir string, logger *slog.Logger) (Definition, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return Definition{}, err
	}
	reg, err := tools.Load(toolsDir, tools.Builtins(), logger)
	if err != nil {
		return Definition{}, err
	}
	def.Tools = reg.Schemas()
	return def, nil
}
