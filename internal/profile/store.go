package profile

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/wyatt727/upnp-cli/internal/logging"
)

//go:embed profiles.json
var builtinProfiles []byte

// profileFile is the on-disk shape: a list wrapped for future metadata.
type profileFile struct {
	Profiles []*Profile `json:"profiles" yaml:"profiles"`
}

// Store is the immutable profile catalog. Safe to share across
// goroutines once loaded.
type Store struct {
	profiles []*Profile
	byName   map[string]*Profile
}

// NewStore loads the built-in catalog.
func NewStore(logger *logging.Logger) (*Store, error) {
	s := &Store{byName: make(map[string]*Profile)}
	if err := s.addJSON(builtinProfiles); err != nil {
		return nil, fmt.Errorf("builtin profiles: %w", err)
	}
	logger.WithComponent("profiles").Debug("builtin profiles loaded", "count", len(s.profiles))
	return s, nil
}

// NewStoreFromDir loads the built-in catalog plus every profile file in
// dir. User files override built-ins with the same name.
func NewStoreFromDir(logger *logging.Logger, dir string) (*Store, error) {
	s, err := NewStore(logger)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}
	log := logger.WithComponent("profiles")
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("profile file unreadable", "path", path, "error", err)
			continue
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = s.addJSON(data)
		case ".yaml", ".yml":
			err = s.addYAML(data)
		default:
			continue
		}
		if err != nil {
			log.Warn("profile file rejected", "path", path, "error", err)
		}
	}
	log.Info("profile catalog ready", "count", len(s.profiles))
	return s, nil
}

func (s *Store) addJSON(data []byte) error {
	var file profileFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	s.addAll(file.Profiles)
	return nil
}

func (s *Store) addYAML(data []byte) error {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	s.addAll(file.Profiles)
	return nil
}

func (s *Store) addAll(profiles []*Profile) {
	for _, p := range profiles {
		if p == nil || p.Name == "" {
			continue
		}
		if existing, ok := s.byName[p.Name]; ok {
			*existing = *p
			continue
		}
		s.profiles = append(s.profiles, p)
		s.byName[p.Name] = p
	}
}

// Profiles returns the catalog in load order.
func (s *Store) Profiles() []*Profile {
	return s.profiles
}

// Find returns a profile by name.
func (s *Store) Find(name string) (*Profile, bool) {
	p, ok := s.byName[name]
	return p, ok
}
