package rbac

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/meridianhq/meridian/pkg/observability"
)

// SeedFile declares the permission catalog and default roles applied at
// startup. Applying a seed is idempotent.
type SeedFile struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
}

// SeedPermission is a catalog entry.
type SeedPermission struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedRole is a role plus the permission names it should carry.
type SeedRole struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	OrganizationID int64    `yaml:"organization_id"`
	Permissions    []string `yaml:"permissions"`
}

// LoadSeedFile parses and validates a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *SeedFile) validate() error {
	catalog := make(map[string]struct{}, len(s.Permissions))
	for i, p := range s.Permissions {
		if p.Name == "" {
			return fmt.Errorf("seed permission %d has no name", i)
		}
		catalog[p.Name] = struct{}{}
	}
	for _, r := range s.Roles {
		if r.Name == "" {
			return fmt.Errorf("seed role has no name")
		}
		if r.OrganizationID <= 0 {
			return fmt.Errorf("seed role %s has no organization", r.Name)
		}
		for _, p := range r.Permissions {
			if _, ok := catalog[p]; !ok {
				return fmt.Errorf("seed role %s references unknown permission %s", r.Name, p)
			}
		}
	}
	return nil
}

// ApplySeed upserts the catalog, roles and grants, then invalidates the
// decision cache once.
func (a *Admin) ApplySeed(ctx context.Context, seed *SeedFile) error {
	permIDs := make(map[string]int64, len(seed.Permissions))
	for _, p := range seed.Permissions {
		id, err := a.store.EnsurePermission(ctx, p.Name, p.Description)
		if err != nil {
			return err
		}
		permIDs[p.Name] = id
	}
	for _, r := range seed.Roles {
		roleID, err := a.store.EnsureRole(ctx, r.OrganizationID, r.Name, r.Description)
		if err != nil {
			return err
		}
		for _, p := range r.Permissions {
			if err := a.store.GrantPermission(ctx, roleID, permIDs[p]); err != nil {
				return err
			}
		}
	}
	a.logger.WithFields(map[string]any{
		"permissions": len(seed.Permissions),
		"roles":       len(seed.Roles),
	}).Info("policy seed applied")
	return a.invalidate(ctx, "apply seed")
}

// SeedWatcher re-applies the seed file whenever it changes on disk, so
// edits to the bootstrap policy take effect without a restart.
type SeedWatcher struct {
	path    string
	admin   *Admin
	logger  *observability.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSeedWatcher starts watching path. Close releases the watch.
func NewSeedWatcher(path string, admin *Admin, logger *observability.Logger) (*SeedWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create seed watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch seed file: %w", err)
	}
	return &SeedWatcher{
		path:    path,
		admin:   admin,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the watch loop. It returns immediately; the loop runs
// until ctx is cancelled or Close is called.
func (w *SeedWatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				w.apply(ctx)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.WithError(err).Warn("seed watcher error")
			}
		}
	}()
}

func (w *SeedWatcher) apply(ctx context.Context) {
	seed, err := LoadSeedFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("seed file changed but could not be loaded")
		return
	}
	if err := w.admin.ApplySeed(ctx, seed); err != nil {
		w.logger.WithError(err).Error("seed re-apply failed")
		return
	}
	w.logger.WithField("path", w.path).Info("seed file re-applied")
}

// Close stops the watch loop.
func (w *SeedWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
