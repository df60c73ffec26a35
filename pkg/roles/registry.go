package roles

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"gopkg.in/yaml.v3"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
)

// Registry is the read-only role table. Built once from the builtin set plus
// an optional YAML overlay; never mutated afterwards, so lookups need no
// locking.
type Registry struct {
	byName map[string]*Role
	order  []string // registration order for stable listing
}

// NewRegistry builds the registry from the builtin roles.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]*Role)}
	for _, role := range builtinRoles() {
		r.add(role)
	}
	return r
}

// NewRegistryFromFile builds the registry with a YAML overlay applied. The
// overlay may add new roles or replace builtins wholesale by name.
func NewRegistryFromFile(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, config.NewLoadError(path, err)
	}
	var overlay struct {
		Roles []*Role `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, config.NewLoadError(path, fmt.Errorf("%w: %v", config.ErrInvalidYAML, err))
	}
	for _, role := range overlay.Roles {
		if err := validateRole(role); err != nil {
			return nil, config.NewLoadError(path, err)
		}
		r.add(role)
	}
	return r, nil
}

func (r *Registry) add(role *Role) {
	key := strings.ToLower(role.Name)
	if _, exists := r.byName[key]; !exists {
		r.order = append(r.order, key)
	}
	r.byName[key] = role
}

func validateRole(role *Role) error {
	if role == nil || role.Name == "" {
		return config.NewValidationError("role", "", "name", config.ErrMissingRequiredField)
	}
	switch role.Category {
	case CategoryReview, CategorySecurity, CategoryPlanning, CategoryGeneration:
	default:
		return config.NewValidationError("role", role.Name, "category",
			fmt.Errorf("%w: %q", config.ErrInvalidValue, role.Category))
	}
	if role.PromptTemplate == "" {
		return config.NewValidationError("role", role.Name, "prompt_template", config.ErrMissingRequiredField)
	}
	return nil
}

// Get resolves a role by name, case-insensitively. Unknown names return an
// invalid-input error suggesting the nearest known role.
func (r *Registry) Get(name string) (*Role, error) {
	role, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		suggestion := r.Nearest(name)
		if suggestion != "" {
			return nil, bridge.NewError(bridge.KindInvalidInput,
				"unknown role %q, did you mean %q?", name, suggestion)
		}
		return nil, bridge.NewError(bridge.KindInvalidInput, "unknown role %q", name)
	}
	return role, nil
}

// List returns all roles in registration order.
func (r *Registry) List() []*Role {
	out := make([]*Role, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byName[key])
	}
	return out
}

// ListByCategory returns the roles in one category, sorted by name.
func (r *Registry) ListByCategory(category string) []*Role {
	var out []*Role
	for _, role := range r.List() {
		if role.Category == category {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all role names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byName[key].Name)
	}
	return out
}

// Nearest returns the known role name closest to the input by edit distance,
// or "" when nothing is reasonably close.
func (r *Registry) Nearest(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	best := ""
	bestDist := len(name)/2 + 1 // beyond this, no suggestion
	for _, key := range r.order {
		d := levenshtein.Distance(name, key, nil)
		if d < bestDist {
			bestDist = d
			best = r.byName[key].Name
		}
	}
	return best
}
