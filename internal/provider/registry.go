package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Registry resolves adapters by provider slug.
type Registry struct {
	adapters map[string]Adapter
	aliases  map[string]string
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}, aliases: map[string]string{}}
	for _, a := range adapters {
		r.adapters[normalizeSlug(a.Slug())] = a
	}
	return r
}

// Alias makes alias resolve to the adapter registered under slug.
func (r *Registry) Alias(alias, slug string) {
	r.aliases[normalizeSlug(alias)] = normalizeSlug(slug)
}

func (r *Registry) Lookup(slug string) (Adapter, error) {
	key := normalizeSlug(slug)
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	a, ok := r.adapters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, slug)
	}
	return a, nil
}

func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.adapters))
	for slug := range r.adapters {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Detect guesses the sender of an unlabelled webhook from its shape. It is a
// fallback for the generic webhook route only and answers false when zero or
// several adapters claim the payload.
func (r *Registry) Detect(raw json.RawMessage) (string, bool) {
	doc := DecodeObject(raw)
	if doc == nil {
		return "", false
	}
	var found []string
	for _, slug := range r.Slugs() {
		if d, ok := r.adapters[slug].(Detector); ok && d.LooksLike(doc) {
			found = append(found, slug)
		}
	}
	if len(found) != 1 {
		return "", false
	}
	return found[0], true
}

func normalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
