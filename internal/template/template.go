// Package template resolves content blueprints and denormalizes them onto
// runtime instances.
//
// Templates are authored offline and immutable at runtime. The registry
// loads them on demand from an experience's content tree and caches them
// per (experience, template id). Merging produces the wire record clients
// see: template fields first, instance-specific fields on top.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/emberfield/waystone/internal/experience"
	"github.com/emberfield/waystone/pkg/wire"
)

// ErrNotFound is returned when no template file exists for an id.
var ErrNotFound = errors.New("template: not found")

// typeDirs maps a template type to its content subdirectory, in lookup
// order. Lookup by id alone scans these until a file is found.
var typeDirs = []struct {
	typ string
	dir string
}{
	{wire.InstanceTypeItem, "items"},
	{wire.InstanceTypeNPC, "npcs"},
	{wire.InstanceTypeQuest, "quests"},
}

// Template is one loaded blueprint. Beyond the typed fields, the full
// authored document is retained so unknown properties reach the client
// untouched.
type Template struct {
	ID          string `json:"template_id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Collectible is the default for instances that do not override it.
	Collectible bool `json:"collectible,omitempty"`

	raw map[string]any
}

// Raw returns the full authored document. Callers must not mutate it.
func (t *Template) Raw() map[string]any { return t.raw }

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Registry loads and caches templates for all experiences.
type Registry struct {
	dataDir string

	mu    sync.RWMutex
	cache map[string]*Template
}

// NewRegistry creates a registry over the content tree rooted at dataDir.
func NewRegistry(dataDir string) *Registry {
	return &Registry{
		dataDir: dataDir,
		cache:   make(map[string]*Template),
	}
}

// Get resolves templateID within exp, loading and caching it on first
// access. Unknown ids return an error wrapping [ErrNotFound].
func (r *Registry) Get(exp *experience.Experience, templateID string) (*Template, error) {
	if !idPattern.MatchString(templateID) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, templateID)
	}

	key := exp.ID + "/" + templateID
	r.mu.RLock()
	tpl, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, err := r.load(exp, templateID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		tpl = cached
	} else {
		r.cache[key] = tpl
	}
	r.mu.Unlock()

	return tpl, nil
}

// load scans the type directories for templateID and parses the first hit.
func (r *Registry) load(exp *experience.Experience, templateID string) (*Template, error) {
	root := filepath.Join(r.dataDir, "experiences", exp.ID, exp.ContentPaths.TemplatesDir())

	for _, td := range typeDirs {
		path := filepath.Join(root, td.dir, templateID+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("template: read %s: %w", path, err)
		}

		tpl := &Template{}
		if err := json.Unmarshal(data, tpl); err != nil {
			return nil, fmt.Errorf("template: parse %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &tpl.raw); err != nil {
			return nil, fmt.Errorf("template: parse %s: %w", path, err)
		}
		if tpl.ID == "" {
			tpl.ID = templateID
		}
		if tpl.Type == "" {
			tpl.Type = td.typ
		}
		return tpl, nil
	}

	return nil, fmt.Errorf("%w: %s in experience %s", ErrNotFound, templateID, exp.ID)
}

// Refresh drops every cached template so the next access re-reads disk.
func (r *Registry) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*Template)
}

// Merge resolves the instance's template and returns the denormalized wire
// record: the template document with instance identity, resolved
// collectible, and instance state layered on top. Template state entries
// act as defaults under the instance's own state.
func (r *Registry) Merge(exp *experience.Experience, inst wire.Instance) (map[string]any, error) {
	tpl, err := r.Get(exp, inst.TemplateID)
	if err != nil {
		return nil, err
	}
	return MergeRecord(inst, tpl), nil
}

// MergeRecord denormalizes tpl onto inst without registry access.
func MergeRecord(inst wire.Instance, tpl *Template) map[string]any {
	rec := make(map[string]any, len(tpl.raw)+5)
	for k, v := range tpl.raw {
		rec[k] = v
	}

	rec["instance_id"] = inst.InstanceID
	rec["template_id"] = tpl.ID
	rec["type"] = tpl.Type
	rec["collectible"] = inst.CollectibleOr(tpl.Collectible)
	if inst.Visible != nil {
		rec["visible"] = *inst.Visible
	}

	state := mergeState(tpl.raw["state"], inst.State)
	if len(state) > 0 {
		rec["state"] = state
	} else {
		delete(rec, "state")
	}

	return rec
}

// mergeState overlays instance state onto template state defaults.
func mergeState(tplState any, instState map[string]any) map[string]any {
	out := make(map[string]any)
	if base, ok := tplState.(map[string]any); ok {
		for k, v := range base {
			out[k] = v
		}
	}
	for k, v := range instState {
		out[k] = v
	}
	return out
}
