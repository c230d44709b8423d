// Package store persists user preferences: favorites, saved presets and
// the macro context used in single-bond analysis.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/moexbonds/moexbonds/pkg/models"
)

// ErrNotFound is returned for unknown preset IDs or favorites.
var ErrNotFound = errors.New("store: not found")

// Store is the preferences persistence boundary.
type Store interface {
	Favorites() (models.Favorites, error)
	AddFavorite(b models.Bond) error
	RemoveFavorite(secid string) error
	SetFavorites(f models.Favorites) error

	Presets() ([]models.Preset, error)
	Preset(idOrName string) (models.Preset, error)
	SavePreset(p models.Preset) (models.Preset, error)
	DeletePreset(id string) error

	Macro() (models.MacroContext, bool, error)
	SaveMacro(m models.MacroContext) error
}

// state is the on-disk document.
type state struct {
	Version   int                    `yaml:"version"`
	Favorites map[string]models.Bond `yaml:"favorites,omitempty"`
	Presets   []models.Preset        `yaml:"presets,omitempty"`
	Macro     *models.MacroContext   `yaml:"macro,omitempty"`
}

const stateVersion = 1

// FileStore keeps state in a single YAML file. Every mutation rewrites
// the file atomically.
type FileStore struct {
	path string
	now  func() time.Time

	mu sync.Mutex
	st state
}

// Open loads the file at path, creating an empty state when it does not
// exist yet.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.st = state{Version: stateVersion}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if s.st.Version == 0 {
		s.st.Version = stateVersion
	}
	return s, nil
}

// Path is the backing file.
func (s *FileStore) Path() string { return s.path }

// ── Favorites ──

// Favorites returns a copy of the favorite set.
func (s *FileStore) Favorites() (models.Favorites, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(models.Favorites, len(s.st.Favorites))
	for k, v := range s.st.Favorites {
		out[k] = v
	}
	return out, nil
}

// AddFavorite stars b, storing its current snapshot.
func (s *FileStore) AddFavorite(b models.Bond) error {
	if b.SecID == "" {
		return errors.New("store: favorite without SECID")
	}
	return s.update(func(st *state) error {
		if st.Favorites == nil {
			st.Favorites = map[string]models.Bond{}
		}
		st.Favorites[b.SecID] = b
		return nil
	})
}

// RemoveFavorite unstars secid.
func (s *FileStore) RemoveFavorite(secid string) error {
	return s.update(func(st *state) error {
		if _, ok := st.Favorites[secid]; !ok {
			return fmt.Errorf("%w: favorite %s", ErrNotFound, secid)
		}
		delete(st.Favorites, secid)
		return nil
	})
}

// SetFavorites replaces the whole set.
func (s *FileStore) SetFavorites(f models.Favorites) error {
	return s.update(func(st *state) error {
		st.Favorites = make(map[string]models.Bond, len(f))
		for k, v := range f {
			st.Favorites[k] = v
		}
		return nil
	})
}

// ── Presets ──

// Presets lists presets, oldest first.
func (s *FileStore) Presets() ([]models.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.Presets), nil
}

// Preset finds a preset by ID or, failing that, by case-insensitive name.
func (s *FileStore) Preset(idOrName string) (models.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.st.Presets {
		if p.ID == idOrName {
			return p, nil
		}
	}
	for _, p := range s.st.Presets {
		if strings.EqualFold(p.Name, idOrName) {
			return p, nil
		}
	}
	return models.Preset{}, fmt.Errorf("%w: preset %q", ErrNotFound, idOrName)
}

// SavePreset stores p. A preset without an ID gets a new one; a preset
// whose ID exists replaces it.
func (s *FileStore) SavePreset(p models.Preset) (models.Preset, error) {
	if strings.TrimSpace(p.Name) == "" {
		return models.Preset{}, errors.New("store: preset name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC().Truncate(time.Second)
	}
	err := s.update(func(st *state) error {
		i := slices.IndexFunc(st.Presets, func(x models.Preset) bool { return x.ID == p.ID })
		if i >= 0 {
			st.Presets[i] = p
		} else {
			st.Presets = append(st.Presets, p)
		}
		return nil
	})
	return p, err
}

// DeletePreset removes a preset by ID.
func (s *FileStore) DeletePreset(id string) error {
	return s.update(func(st *state) error {
		i := slices.IndexFunc(st.Presets, func(x models.Preset) bool { return x.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: preset %q", ErrNotFound, id)
		}
		st.Presets = slices.Delete(st.Presets, i, i+1)
		return nil
	})
}

// ── Macro ──

// Macro returns the stored macro context and whether one was saved.
func (s *FileStore) Macro() (models.MacroContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Macro == nil {
		return models.MacroContext{}, false, nil
	}
	return *s.st.Macro, true, nil
}

// SaveMacro stores m.
func (s *FileStore) SaveMacro(m models.MacroContext) error {
	return s.update(func(st *state) error {
		st.Macro = &m
		return nil
	})
}

// update applies fn to a copy of the state and persists it. The in-memory
// state changes only when the write succeeds.
func (s *FileStore) update(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := writeAtomic(s.path, next); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (st state) clone() state {
	out := state{Version: st.Version, Presets: slices.Clone(st.Presets)}
	if st.Favorites != nil {
		out.Favorites = make(map[string]models.Bond, len(st.Favorites))
		for k, v := range st.Favorites {
			out.Favorites[k] = v
		}
	}
	if st.Macro != nil {
		m := *st.Macro
		out.Macro = &m
	}
	return out
}

func writeAtomic(path string, st state) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	log.Debug().Str("path", path).Msg("state saved")
	return nil
}
