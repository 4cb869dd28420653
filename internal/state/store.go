package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/emberfield/waystone/internal/experience"
	"github.com/emberfield/waystone/pkg/wire"
)

var (
	// ErrConflict reports a write composed against a stale snapshot,
	// typically a $remove whose target was already taken. Transient from
	// the caller's point of view: re-read and retry.
	ErrConflict = errors.New("state: conflicting write")

	// ErrLockTimeout reports that the advisory file lock could not be
	// acquired within the configured wait.
	ErrLockTimeout = errors.New("state: lock wait timed out")

	// ErrNotFound reports a missing instance or view.
	ErrNotFound = errors.New("state: not found")

	// ErrInvalidID reports an identifier unsafe to place in a path.
	ErrInvalidID = errors.New("state: invalid identifier")
)

// DefaultLockWait bounds how long a writer waits for the file lock.
const DefaultLockWait = 5 * time.Second

// metadataSource tags outbound world-update events with their producer.
const metadataSource = "state_store"

// userIDPattern admits the identifier shapes JWT subjects take in the
// wild (auth0|..., emails, plain UUIDs) while keeping them safe to embed
// as a single path segment.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@|-]{0,127}$`)

// Merger denormalizes a template onto an instance for outbound records.
// The template registry satisfies it.
type Merger interface {
	Merge(exp *experience.Experience, inst wire.Instance) (map[string]any, error)
}

// Publisher is the slice of the message bus the store needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Store owns all world and player state on disk. Writes serialize through
// per-file advisory locks, apply delta operators, advance the player's
// snapshot version by exactly one, and publish a world-update event on the
// acting user's subject. Publish failures are logged and swallowed: the
// durable write is the source of truth and clients resynchronize by
// version.
type Store struct {
	dataDir     string
	experiences *experience.Cache
	publisher   Publisher
	merger      Merger
	lockWait    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait bounds the advisory-lock wait for every write.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

// NewStore builds a store rooted at dataDir. The publisher receives one
// world-update event per effective user-attributed write; the merger
// denormalizes templates onto instances for those events.
func NewStore(dataDir string, experiences *experience.Cache, pub Publisher, m Merger, opts ...Option) *Store {
	s := &Store{
		dataDir:     dataDir,
		experiences: experiences,
		publisher:   pub,
		merger:      m,
		lockWait:    DefaultLockWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Experience resolves an experience config through the cache.
func (s *Store) Experience(id string) (*experience.Experience, error) {
	return s.experiences.Get(id)
}

// Experiences exposes the underlying config cache.
func (s *Store) Experiences() *experience.Cache {
	return s.experiences
}

// Paths. World state lives with the experience content; views live under
// a per-user tree so one player's files never contend with another's.

func (s *Store) stateFile(exp *experience.Experience, name string) string {
	return filepath.Join(s.experiences.Dir(exp.ID), exp.ContentPaths.StateDir(), name)
}

func (s *Store) worldPath(exp *experience.Experience) string {
	return s.stateFile(exp, "world.json")
}

func (s *Store) worldTemplatePath(exp *experience.Experience) string {
	return s.stateFile(exp, "world.template.json")
}

func (s *Store) worldLockPath(exp *experience.Experience) string {
	return s.stateFile(exp, "world.lock")
}

func (s *Store) viewDir(expID, userID string) string {
	return filepath.Join(s.dataDir, "players", userID, expID)
}

func (s *Store) viewPath(expID, userID string) string {
	return filepath.Join(s.viewDir(expID, userID), "view.json")
}

func (s *Store) viewLockPath(expID, userID string) string {
	return filepath.Join(s.viewDir(expID, userID), "view.lock")
}

func checkUserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("%w: user id %q", ErrInvalidID, id)
	}
	return nil
}

// WorldState returns the world snapshot for an experience, initializing
// it from the authored template on first access. For isolated experiences
// the returned world is the shared authored baseline; per-player
// divergence lives in each view.
func (s *Store) WorldState(ctx context.Context, experienceID string) (*wire.World, error) {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return nil, err
	}
	doc, err := s.worldDoc(ctx, exp)
	if err != nil {
		return nil, err
	}
	return decodeWorld(doc)
}

// WorldDoc is WorldState without the typed decode, for callers that need
// authored fields outside the schema.
func (s *Store) WorldDoc(ctx context.Context, experienceID string) (Document, error) {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return nil, err
	}
	return s.worldDoc(ctx, exp)
}

func (s *Store) worldDoc(ctx context.Context, exp *experience.Experience) (Document, error) {
	if exp.StateModel == experience.StateIsolated {
		return s.baselineWorldDoc(exp)
	}
	doc, err := readDocument(s.worldPath(exp))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	var out Document
	err = withFileLock(ctx, s.worldLockPath(exp), s.lockWait, func() error {
		var lockErr error
		out, lockErr = s.loadWorldLocked(exp)
		return lockErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadWorldLocked reads the world snapshot, seeding it from the template
// on first access. Caller holds the world lock.
func (s *Store) loadWorldLocked(exp *experience.Experience) (Document, error) {
	doc, err := readDocument(s.worldPath(exp))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	tpl, err := s.baselineWorldDoc(exp)
	if err != nil {
		return nil, err
	}
	if err := writeDocument(s.worldPath(exp), tpl); err != nil {
		return nil, err
	}
	slog.Info("state: world initialized from template", "experience", exp.ID)
	return tpl, nil
}

// baselineWorldDoc loads the authored world template. Experiences shipped
// without one start empty rather than failing every read.
func (s *Store) baselineWorldDoc(exp *experience.Experience) (Document, error) {
	doc, err := readDocument(s.worldTemplatePath(exp))
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("state: world template missing, starting empty", "experience", exp.ID)
		return Document{"locations": map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PlayerView returns the user's view of an experience, creating it from
// the experience bootstrap on first access. Isolated experiences seed the
// new view with a private copy of the authored world.
func (s *Store) PlayerView(ctx context.Context, experienceID, userID string) (*wire.PlayerView, error) {
	doc, err := s.PlayerViewDoc(ctx, experienceID, userID)
	if err != nil {
		return nil, err
	}
	return decodeView(doc)
}

// PlayerViewDoc is PlayerView without the typed decode.
func (s *Store) PlayerViewDoc(ctx context.Context, experienceID, userID string) (Document, error) {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return nil, err
	}
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	doc, err := readDocument(s.viewPath(exp.ID, userID))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	var out Document
	err = withFileLock(ctx, s.viewLockPath(exp.ID, userID), s.lockWait, func() error {
		var lockErr error
		out, _, lockErr = s.loadViewLocked(exp, userID)
		return lockErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadViewLocked reads the view, bootstrapping it on first access. Caller
// holds the view lock. The second return reports whether a fresh view was
// written.
func (s *Store) loadViewLocked(exp *experience.Experience, userID string) (Document, bool, error) {
	doc, err := readDocument(s.viewPath(exp.ID, userID))
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	doc, err = s.bootstrapViewDoc(exp)
	if err != nil {
		return nil, false, err
	}
	if err := writeDocument(s.viewPath(exp.ID, userID), doc); err != nil {
		return nil, false, err
	}
	slog.Info("state: player view created", "experience", exp.ID, "user", userID)
	return doc, true, nil
}

func (s *Store) bootstrapViewDoc(exp *experience.Experience) (Document, error) {
	inventory, err := toDocumentValue(exp.Bootstrap.StartingInventory)
	if err != nil {
		return nil, fmt.Errorf("state: encode starting inventory: %w", err)
	}
	if inventory == nil {
		inventory = []any{}
	}
	doc := Document{
		"current_location": exp.Bootstrap.StartingLocation,
		"current_area":     exp.Bootstrap.StartingArea,
		"inventory":        inventory,
		"npcs":             map[string]any{},
		"snapshot_version": float64(0),
		"last_action":      float64(0),
	}
	if exp.StateModel == experience.StateIsolated {
		baseline, err := s.baselineWorldDoc(exp)
		if err != nil {
			return nil, err
		}
		if locations, ok := baseline.Map("locations"); ok {
			doc["locations"] = locations
		} else {
			doc["locations"] = map[string]any{}
		}
	}
	return doc, nil
}

// UpdateWorldState applies an update tree on behalf of userID. Branches
// under "locations" target the shared world file; every other branch
// targets the acting user's view. In isolated experiences the whole tree
// lands in the view, locations included. Both files commit under locks
// (world before view, always), the view's snapshot version advances by
// one when anything changed, and one world-update event is published.
//
// An empty userID performs an unattributed maintenance write: no view is
// touched and no event is published.
func (s *Store) UpdateWorldState(ctx context.Context, experienceID string, updates map[string]any, userID string) (*wire.World, error) {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return nil, err
	}
	worldUpdates, viewUpdates := splitUpdates(exp, updates)
	res, err := s.commit(ctx, exp, userID, worldUpdates, viewUpdates)
	if err != nil {
		return nil, err
	}
	if res.changed && userID != "" {
		s.publishUpdate(ctx, exp, userID, res)
	}
	if res.world == nil {
		if res.view != nil {
			if locations, ok := res.view.Map("locations"); ok {
				return decodeWorld(Document{"locations": locations})
			}
		}
		return s.WorldState(ctx, exp.ID)
	}
	return decodeWorld(res.world)
}

// UpdatePlayerView applies an update tree to one user's view. Shared
// experiences reject "locations" branches here; the world file owns them.
func (s *Store) UpdatePlayerView(ctx context.Context, experienceID, userID string, updates map[string]any) (*wire.PlayerView, error) {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return nil, err
	}
	if exp.StateModel == experience.StateShared {
		if _, ok := updates["locations"]; ok {
			return nil, fmt.Errorf("state: locations are world-owned in shared experiences")
		}
	}
	res, err := s.commit(ctx, exp, userID, nil, updates)
	if err != nil {
		return nil, err
	}
	if res.changed && userID != "" {
		s.publishUpdate(ctx, exp, userID, res)
	}
	if res.view == nil {
		return s.PlayerView(ctx, exp.ID, userID)
	}
	return decodeView(res.view)
}

// splitUpdates routes an update tree between the world and view files
// according to the experience's state model.
func splitUpdates(exp *experience.Experience, updates map[string]any) (world, view map[string]any) {
	if exp.StateModel == experience.StateIsolated {
		return nil, updates
	}
	for key, val := range updates {
		if key == "locations" {
			if world == nil {
				world = map[string]any{}
			}
			world[key] = val
			continue
		}
		if view == nil {
			view = map[string]any{}
		}
		view[key] = val
	}
	return world, view
}

type commitResult struct {
	world        Document
	view         Document
	worldEffects []Effect
	viewEffects  []Effect
	base         uint64
	next         uint64
	changed      bool
}

// commit applies the world and view sides of one logical write. Locks
// nest world before view so concurrent writers cannot deadlock, and both
// applies succeed in memory before either file is replaced.
func (s *Store) commit(ctx context.Context, exp *experience.Experience, userID string, worldUpdates, viewUpdates map[string]any, opts ...ApplyOption) (*commitResult, error) {
	res := &commitResult{}
	if userID != "" {
		if err := checkUserID(userID); err != nil {
			return nil, err
		}
	} else if len(viewUpdates) > 0 {
		return nil, fmt.Errorf("%w: view update without a user id", ErrInvalidID)
	}

	viewSide := func() error {
		if userID == "" {
			if len(res.worldEffects) > 0 {
				return writeDocument(s.worldPath(exp), res.world)
			}
			return nil
		}
		return withFileLock(ctx, s.viewLockPath(exp.ID, userID), s.lockWait, func() error {
			view, _, err := s.loadViewLocked(exp, userID)
			if err != nil {
				return err
			}
			res.viewEffects, err = Apply(view, viewUpdates, opts...)
			if err != nil {
				return err
			}
			res.view = view
			if len(res.worldEffects) == 0 && len(res.viewEffects) == 0 {
				return nil
			}
			res.changed = true
			res.base = docVersion(view)
			res.next = res.base + 1
			view["snapshot_version"] = float64(res.next)
			view["last_action"] = float64(time.Now().UnixMilli())
			if len(res.worldEffects) > 0 {
				if err := writeDocument(s.worldPath(exp), res.world); err != nil {
					return err
				}
			}
			return writeDocument(s.viewPath(exp.ID, userID), view)
		})
	}

	if len(worldUpdates) == 0 {
		if err := viewSide(); err != nil {
			return nil, err
		}
		return res, nil
	}

	err := withFileLock(ctx, s.worldLockPath(exp), s.lockWait, func() error {
		world, err := s.loadWorldLocked(exp)
		if err != nil {
			return err
		}
		res.worldEffects, err = Apply(world, worldUpdates, opts...)
		if err != nil {
			return err
		}
		res.world = world
		return viewSide()
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResetPlayer deletes a user's view so the next access bootstraps fresh.
// Resetting an absent view is a no-op.
func (s *Store) ResetPlayer(ctx context.Context, experienceID, userID string) error {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return err
	}
	if err := checkUserID(userID); err != nil {
		return err
	}
	err = withFileLock(ctx, s.viewLockPath(exp.ID, userID), s.lockWait, func() error {
		if err := os.Remove(s.viewPath(exp.ID, userID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("state: remove view: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("state: player reset", "experience", exp.ID, "user", userID)
	return nil
}

// ResetExperience restores the world from its template and deletes every
// player view for the experience.
func (s *Store) ResetExperience(ctx context.Context, experienceID string) error {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return err
	}
	if exp.StateModel == experience.StateShared {
		err = withFileLock(ctx, s.worldLockPath(exp), s.lockWait, func() error {
			tpl, err := s.baselineWorldDoc(exp)
			if err != nil {
				return err
			}
			return writeDocument(s.worldPath(exp), tpl)
		})
		if err != nil {
			return err
		}
	}
	if err := s.removeAllViews(exp.ID); err != nil {
		return err
	}
	// Re-read the experience config on next use in case content changed
	// underneath the reset.
	s.experiences.Invalidate(exp.ID)
	slog.Info("state: experience reset", "experience", exp.ID)
	return nil
}

func (s *Store) removeAllViews(expID string) error {
	root := filepath.Join(s.dataDir, "players")
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: scan players: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name(), expID)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("state: remove views for %s: %w", expID, err)
		}
	}
	return nil
}

// ResetInstance puts an instance back where the world template authored
// it, with its authored state, removing any copy that drifted to another
// area. The write is attributed to userID like any other, so clients
// learn about it through the usual world-update event.
func (s *Store) ResetInstance(ctx context.Context, experienceID, instanceID, userID string) error {
	exp, err := s.Experience(experienceID)
	if err != nil {
		return err
	}
	baseline, err := s.baselineWorldDoc(exp)
	if err != nil {
		return err
	}
	authored, ok := findAuthoredInstance(baseline, instanceID)
	if !ok {
		return fmt.Errorf("%w: instance %q not in world template", ErrNotFound, instanceID)
	}

	current, err := s.worldDoc(ctx, exp)
	if err != nil {
		return err
	}
	if exp.StateModel == experience.StateIsolated && userID != "" {
		if view, viewErr := s.PlayerViewDoc(ctx, exp.ID, userID); viewErr == nil {
			current = view
		}
	}

	updates := map[string]any{}
	for _, ref := range instanceAreas(current, instanceID) {
		mergeItemsLeaf(updates, ref.location, ref.area, map[string]any{
			"$remove": map[string]any{"instance_id": instanceID},
		})
	}
	mergeItemsLeaf(updates, authored.location, authored.area, map[string]any{
		"$remove": map[string]any{"instance_id": instanceID},
		"$append": authored.record,
	})

	// Lenient removes: the instance may be anywhere or nowhere.
	world, view := splitUpdates(exp, updates)
	res, err := s.commit(ctx, exp, userID, world, view, WithLenientRemove())
	if err != nil {
		return err
	}
	if res.changed && userID != "" {
		s.publishUpdate(ctx, exp, userID, res)
	}
	return nil
}

type instanceRef struct {
	location string
	area     string
	record   map[string]any
}

// instanceAreas lists every area currently holding the instance.
func instanceAreas(doc Document, instanceID string) []instanceRef {
	var refs []instanceRef
	locations, _ := doc.Map("locations")
	for locID, locVal := range locations {
		loc, ok := locVal.(map[string]any)
		if !ok {
			continue
		}
		areas, _ := loc["areas"].(map[string]any)
		for areaID, areaVal := range areas {
			area, ok := areaVal.(map[string]any)
			if !ok {
				continue
			}
			items, _ := area["items"].([]any)
			for _, it := range items {
				m, ok := it.(map[string]any)
				if ok && m["instance_id"] == instanceID {
					refs = append(refs, instanceRef{location: locID, area: areaID, record: m})
				}
			}
		}
	}
	return refs
}

func findAuthoredInstance(baseline Document, instanceID string) (instanceRef, bool) {
	refs := instanceAreas(baseline, instanceID)
	if len(refs) == 0 {
		return instanceRef{}, false
	}
	return refs[0], true
}

// mergeItemsLeaf grafts an items-leaf operator object into an update tree
// at locations.<loc>.areas.<area>.items, merging operator keys when the
// leaf already exists.
func mergeItemsLeaf(updates map[string]any, locID, areaID string, leaf map[string]any) {
	locations, _ := updates["locations"].(map[string]any)
	if locations == nil {
		locations = map[string]any{}
		updates["locations"] = locations
	}
	loc, _ := locations[locID].(map[string]any)
	if loc == nil {
		loc = map[string]any{}
		locations[locID] = loc
	}
	areas, _ := loc["areas"].(map[string]any)
	if areas == nil {
		areas = map[string]any{}
		loc["areas"] = areas
	}
	area, _ := areas[areaID].(map[string]any)
	if area == nil {
		area = map[string]any{}
		areas[areaID] = area
	}
	items, _ := area["items"].(map[string]any)
	if items == nil {
		items = map[string]any{}
		area["items"] = items
	}
	for k, v := range leaf {
		items[k] = v
	}
}

func docVersion(doc Document) uint64 {
	n, ok := doc.Number("snapshot_version")
	if !ok || n < 0 {
		return 0
	}
	return uint64(n)
}

func decodeWorld(doc Document) (*wire.World, error) {
	var world wire.World
	if err := reencode(doc, &world); err != nil {
		return nil, fmt.Errorf("state: decode world: %w", err)
	}
	return &world, nil
}

func decodeView(doc Document) (*wire.PlayerView, error) {
	var view wire.PlayerView
	if err := reencode(doc, &view); err != nil {
		return nil, fmt.Errorf("state: decode view: %w", err)
	}
	return &view, nil
}

// reencode converts between raw documents and typed values through their
// JSON forms.
func reencode(from, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, to)
}

func toDocumentValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
