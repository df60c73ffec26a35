package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// BackendType identifies the adapter variant materialized for a descriptor.
type BackendType string

const (
	BackendTypeLocal    BackendType = "local"
	BackendTypeDeepSeek BackendType = "deepseek"
	BackendTypeQwen     BackendType = "qwen"
	BackendTypeGemini   BackendType = "gemini"
	BackendTypeOpenAI   BackendType = "openai"
)

// BackendDescriptor is one catalog entry. Lower priority is preferred.
type BackendDescriptor struct {
	Type     BackendType       `yaml:"type" json:"type"`
	Enabled  bool              `yaml:"enabled" json:"enabled"`
	Priority int               `yaml:"priority" json:"priority"`
	Endpoint string            `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Model    string            `yaml:"model,omitempty" json:"model,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// insertion is the registration order, used as a stable tie-break when
	// priorities are equal. Populated by the catalog, not the YAML file.
	insertion int
}

// Insertion returns the registration order index.
func (d *BackendDescriptor) Insertion() int { return d.insertion }

// SetInsertion records the registration order index.
func (d *BackendDescriptor) SetInsertion(i int) { d.insertion = i }

// BackendCatalogDoc is the YAML document shape for export/load.
type BackendCatalogDoc struct {
	Backends map[string]*BackendDescriptor `yaml:"backends"`
}

// ExportBackends serializes a catalog to YAML.
func ExportBackends(backends map[string]*BackendDescriptor) ([]byte, error) {
	doc := BackendCatalogDoc{Backends: backends}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to export backend catalog: %w", err)
	}
	return out, nil
}

// LoadBackendsFile reads a backend catalog overlay from a YAML file.
func LoadBackendsFile(path string) (map[string]*BackendDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	return ParseBackends(data, path)
}

// ParseBackends parses a backend catalog document.
func ParseBackends(data []byte, source string) (map[string]*BackendDescriptor, error) {
	var doc BackendCatalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewLoadError(source, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	for name, desc := range doc.Backends {
		if desc == nil || desc.Type == "" {
			return nil, NewValidationError("backend", name, "type", ErrMissingRequiredField)
		}
	}
	return doc.Backends, nil
}

// SortedBackendNames returns catalog names ordered by ascending priority,
// ties broken by insertion order.
func SortedBackendNames(backends map[string]*BackendDescriptor) []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, b := backends[names[i]], backends[names[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.insertion < b.insertion
	})
	return names
}
