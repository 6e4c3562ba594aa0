package languages

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsupportedLanguage is returned by Get for unknown language ids.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Registry maps language ids to their execution profiles. It is sealed
// at construction: no registration after NewRegistry returns, so
// lookups need no locking and are safe from any goroutine. Adding a
// language is a configuration change, not a runtime mutation.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a registry from the given profiles. Later entries
// with the same id override earlier ones, which lets configured
// profiles shadow the built-in defaults.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if p.ID == "" {
			return nil, errors.New("language profile without id")
		}
		if p.Image == "" || p.SourceFile == "" || len(p.RunCommand) == 0 {
			return nil, fmt.Errorf("language %q: image, source file and run command are required", p.ID)
		}
		r.profiles[p.ID] = p
	}
	return r, nil
}

// Get resolves a language id to its profile.
func (r *Registry) Get(id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, id)
	}
	return p, nil
}

// List returns all profiles ordered by id.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Images returns the distinct container images referenced by the
// registry, ordered by name. Used at startup to pre-pull images.
func (r *Registry) Images() []string {
	seen := make(map[string]struct{}, len(r.profiles))
	for _, p := range r.profiles {
		seen[p.Image] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for img := range seen {
		out = append(out, img)
	}
	sort.Strings(out)
	return out
}
