package templates

import (
	"fmt"
	"sort"
	"strings"
)

// KeySet renders cache keys per named route.
type KeySet struct {
	routes map[string]*Template
}

// CompileKeys compiles one key template per route. Every route must produce a
// template; an empty source is rejected because the cache needs a key.
func (r *Renderer) CompileKeys(sources map[string]string) (*KeySet, error) {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	set := &KeySet{routes: make(map[string]*Template, len(sources))}
	for _, name := range names {
		tmpl, err := r.CompileInline(name, sources[name])
		if err != nil {
			return nil, err
		}
		if tmpl == nil {
			return nil, fmt.Errorf("templates: route %q has no key template", name)
		}
		set.routes[name] = tmpl
	}
	return set, nil
}

// Key renders the key for route against params. Keys are trimmed and must
// not be empty.
func (s *KeySet) Key(route string, params map[string]string) (string, error) {
	tmpl, ok := s.routes[route]
	if !ok {
		return "", fmt.Errorf("templates: unknown route %q", route)
	}
	if params == nil {
		params = map[string]string{}
	}
	key, err := tmpl.Render(params)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("templates: route %q rendered an empty key", route)
	}
	return key, nil
}
