package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// definition is the on-disk strategy definition.
type definition struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// Handle is the typed registration returned for a loaded strategy.
type Handle struct {
	Name string
	Type string
	Path string
}

// Factory builds a strategy of one type from its params.
type Factory func(name string, params map[string]any) (Strategy, error)

// Loader resolves strategy definition files against a fixed base directory
// and refuses any path that escapes it. Strategy types are registered
// factories; nothing is discovered dynamically.
type Loader struct {
	baseDir   string
	factories map[string]Factory
}

// NewLoader creates a loader rooted at baseDir.
func NewLoader(baseDir string) (*Loader, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("strategy.NewLoader: resolve base %q: %w", baseDir, err)
	}
	return &Loader{
		baseDir:   abs,
		factories: make(map[string]Factory),
	}, nil
}

// RegisterType registers a factory for a strategy type.
func (l *Loader) RegisterType(typ string, f Factory) {
	l.factories[typ] = f
}

// Load resolves relPath inside the base directory, parses the definition
// and constructs the strategy through its registered factory.
func (l *Loader) Load(relPath string) (Handle, Strategy, error) {
	path, err := l.resolve(relPath)
	if err != nil {
		return Handle{}, nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Handle{}, nil, fmt.Errorf("strategy.Load: read %q: %w", relPath, err)
	}

	var sp definition
	if err := yaml.Unmarshal(data, &sp); err != nil {
		return Handle{}, nil, fmt.Errorf("strategy.Load: parse %q: %w", relPath, err)
	}
	if sp.Name == "" || sp.Type == "" {
		return Handle{}, nil, fmt.Errorf("strategy.Load: %q: name and type are required", relPath)
	}

	factory, ok := l.factories[sp.Type]
	if !ok {
		return Handle{}, nil, fmt.Errorf("strategy.Load: unknown strategy type %q", sp.Type)
	}

	s, err := factory(sp.Name, sp.Params)
	if err != nil {
		return Handle{}, nil, fmt.Errorf("strategy.Load: build %q: %w", sp.Name, err)
	}
	return Handle{Name: sp.Name, Type: sp.Type, Path: path}, s, nil
}

// resolve joins relPath to the base dir and rejects escapes: absolute
// paths, ".." traversal, anything whose cleaned form leaves the base.
func (l *Loader) resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("strategy: absolute path %q not allowed", relPath)
	}
	joined := filepath.Clean(filepath.Join(l.baseDir, relPath))
	if joined != l.baseDir && !strings.HasPrefix(joined, l.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("strategy: path %q escapes strategy directory", relPath)
	}
	return joined, nil
}
