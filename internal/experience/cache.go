package experience

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ConfigFile is the configuration file name inside an experience directory.
const ConfigFile = "config.json"

// Cache loads experience configurations from the content tree and keeps
// them in memory. Loading happens once per experience; Refresh and
// Invalidate drop cached entries so the next access re-reads the disk.
type Cache struct {
	dataDir       string
	defaultRadius float64

	mu   sync.RWMutex
	byID map[string]*Experience
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithDefaultRadius sets the geofence radius applied when an experience
// does not declare one. The default is 100 meters.
func WithDefaultRadius(meters float64) CacheOption {
	return func(c *Cache) {
		if meters > 0 {
			c.defaultRadius = meters
		}
	}
}

// NewCache creates a cache over the content tree rooted at dataDir.
func NewCache(dataDir string, opts ...CacheOption) *Cache {
	c := &Cache{
		dataDir:       dataDir,
		defaultRadius: 100,
		byID:          make(map[string]*Experience),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the directory holding the given experience's content.
func (c *Cache) Dir(id string) string {
	return filepath.Join(c.dataDir, "experiences", id)
}

// Get returns the configuration for id, loading it on first access.
// Unknown ids return an error wrapping [ErrNotFound].
func (c *Cache) Get(id string) (*Experience, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}

	c.mu.RLock()
	exp, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return exp, nil
	}

	exp, err := c.load(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Another goroutine may have loaded it meanwhile; keep the first copy
	// so callers comparing pointers see a stable record.
	if cached, ok := c.byID[id]; ok {
		exp = cached
	} else {
		c.byID[id] = exp
	}
	c.mu.Unlock()

	return exp, nil
}

// load reads and validates one configuration from disk.
func (c *Cache) load(id string) (*Experience, error) {
	path := filepath.Join(c.Dir(id), ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("experience: read %s: %w", path, err)
	}

	exp := &Experience{}
	if err := json.Unmarshal(data, exp); err != nil {
		return nil, fmt.Errorf("experience: parse %s: %w", path, err)
	}
	if exp.ID == "" {
		exp.ID = id
	}
	if exp.ID != id {
		return nil, fmt.Errorf("experience: %s declares experience_id %q, want %q", path, exp.ID, id)
	}
	if exp.StateModel == "" {
		exp.StateModel = StateShared
	}
	if exp.GeofenceRadiusM == 0 {
		exp.GeofenceRadiusM = c.defaultRadius
	}
	if err := exp.Validate(); err != nil {
		return nil, fmt.Errorf("experience: %s: %w", path, err)
	}

	return exp, nil
}

// Invalidate drops one cached experience so the next Get re-reads it.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
}

// Refresh drops every cached experience. Wired to the config watcher's
// onChange hook and the admin reload verb.
func (c *Cache) Refresh() {
	c.mu.Lock()
	n := len(c.byID)
	c.byID = make(map[string]*Experience)
	c.mu.Unlock()

	if n > 0 {
		slog.Info("experience cache refreshed", "dropped", n)
	}
}

// List returns the ids of every experience present on disk, sorted.
// Entries that are not directories are skipped.
func (c *Cache) List() ([]string, error) {
	root := filepath.Join(c.dataDir, "experiences")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("experience: list %s: %w", root, err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), ConfigFile)); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}
