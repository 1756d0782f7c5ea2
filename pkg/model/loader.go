package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader loads and optionally hot-reloads app definitions from YAML files.
type Loader struct {
	dir string

	mu   sync.RWMutex
	apps map[string]*AppDefinition
}

// NewLoader creates a definitions loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{
		dir:  dir,
		apps: make(map[string]*AppDefinition),
	}
}

// LoadAll loads all .yaml and .yml files from the configured directory.
func (l *Loader) LoadAll() (map[string]*AppDefinition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions dir %q: %w", l.dir, err)
	}

	result := make(map[string]*AppDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		app, err := l.loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", path, err)
		}
		result[app.AppID] = app
	}

	l.mu.Lock()
	l.apps = result
	l.mu.Unlock()

	return result, nil
}

// Get returns a loaded app definition by app id.
func (l *Loader) Get(appID string) (*AppDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	app, ok := l.apps[appID]
	return app, ok
}

// All returns all loaded app definitions.
func (l *Loader) All() map[string]*AppDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make(map[string]*AppDefinition, len(l.apps))
	for k, v := range l.apps {
		result[k] = v
	}
	return result
}

func (l *Loader) loadFile(path string) (*AppDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var app AppDefinition
	if err := yaml.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if app.AppID == "" {
		app.AppID = filepath.Base(path)
	}

	if err := ValidateDefinition(&app); err != nil {
		return nil, err
	}

	return &app, nil
}

// ValidateDefinition checks an app definition for internal consistency.
func ValidateDefinition(app *AppDefinition) error {
	entityIDs := make(map[string]Entity, len(app.Entities))
	for _, e := range app.Entities {
		if e.ID == "" || e.Name == "" {
			return fmt.Errorf("app %q: entity with empty id or name", app.AppID)
		}
		if _, dup := entityIDs[e.ID]; dup {
			return fmt.Errorf("app %q: duplicate entity id %q", app.AppID, e.ID)
		}
		entityIDs[e.ID] = e
	}
	for _, e := range app.Entities {
		if e.PositiveEntityID != "" {
			if _, ok := entityIDs[e.PositiveEntityID]; !ok {
				return fmt.Errorf("app %q: entity %q references unknown positive pair %q",
					app.AppID, e.ID, e.PositiveEntityID)
			}
		}
		if e.NegativeEntityID != "" {
			if _, ok := entityIDs[e.NegativeEntityID]; !ok {
				return fmt.Errorf("app %q: entity %q references unknown negative pair %q",
					app.AppID, e.ID, e.NegativeEntityID)
			}
		}
	}

	actionIDs := make(map[string]struct{}, len(app.Actions))
	for _, a := range app.Actions {
		if a.ID == "" {
			return fmt.Errorf("app %q: action with empty id", app.AppID)
		}
		if _, dup := actionIDs[a.ID]; dup {
			return fmt.Errorf("app %q: duplicate action id %q", app.AppID, a.ID)
		}
		actionIDs[a.ID] = struct{}{}

		for _, id := range append(append([]string(nil), a.RequiredEntities...), a.NegativeEntities...) {
			if _, ok := entityIDs[id]; !ok {
				return fmt.Errorf("app %q: action %q references unknown entity %q", app.AppID, a.ID, id)
			}
		}

		if err := validatePayload(app.AppID, a, entityIDs); err != nil {
			return err
		}
	}
	return nil
}

func validatePayload(appID string, a Action, entityIDs map[string]Entity) error {
	switch a.Type {
	case ActionTypeText:
		if a.Text == nil {
			return fmt.Errorf("app %q: text action %q has no text payload", appID, a.ID)
		}
	case ActionTypeCard:
		if a.Card == nil || a.Card.Template == "" {
			return fmt.Errorf("app %q: card action %q has no template", appID, a.ID)
		}
	case ActionTypeAPI:
		if a.API == nil || a.API.Name == "" {
			return fmt.Errorf("app %q: api action %q has no callback name", appID, a.ID)
		}
	case ActionTypeEndSession:
		if a.Session == nil {
			return fmt.Errorf("app %q: end-session action %q has no session payload", appID, a.ID)
		}
	case ActionTypeSetEntity:
		if a.SetEntity == nil {
			return fmt.Errorf("app %q: set-entity action %q has no payload", appID, a.ID)
		}
		target, ok := entityIDs[a.SetEntity.EntityID]
		if !ok {
			return fmt.Errorf("app %q: set-entity action %q targets unknown entity %q",
				appID, a.ID, a.SetEntity.EntityID)
		}
		if target.Type != EntityTypeEnum {
			return fmt.Errorf("app %q: set-entity action %q targets non-enum entity %q",
				appID, a.ID, target.Name)
		}
		if _, ok := target.EnumValueByID(a.SetEntity.EnumValueID); !ok {
			return fmt.Errorf("app %q: set-entity action %q uses unknown enum value %q",
				appID, a.ID, a.SetEntity.EnumValueID)
		}
	case ActionTypeDispatch, ActionTypeChangeModel:
		if a.Model == nil || a.Model.ModelID == "" {
			return fmt.Errorf("app %q: %s action %q has no model payload", appID, a.Type, a.ID)
		}
	default:
		return fmt.Errorf("app %q: action %q has unknown type %q", appID, a.ID, a.Type)
	}
	return nil
}

// WatchAndReload watches the definitions directory for changes and reloads.
// This blocks until the done channel is closed.
func (l *Loader) WatchAndReload(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", l.dir, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				ext := filepath.Ext(event.Name)
				if ext == ".yaml" || ext == ".yml" {
					l.LoadAll()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
