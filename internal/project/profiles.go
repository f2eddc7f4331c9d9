package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/piwi3910/slabnest/internal/model"
)

// DefaultProfilesPath returns the default file path for custom profiles.
func DefaultProfilesPath() string {
	return filepath.Join(DefaultConfigDir(), "profiles.json")
}

// SaveCustomProfiles saves custom profiles to a JSON file.
func SaveCustomProfiles(path string, profiles []model.GCodeProfile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadCustomProfiles loads custom profiles from a JSON file.
// Returns an empty slice if the file does not exist or path is empty.
func LoadCustomProfiles(path string) ([]model.GCodeProfile, error) {
	if path == "" {
		return []model.GCodeProfile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.GCodeProfile{}, nil
		}
		return nil, err
	}

	var profiles []model.GCodeProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}

	for i, p := range profiles {
		if err := validateProfile(p); err != nil {
			return nil, fmt.Errorf("profile %d in %s: %w", i+1, path, err)
		}
	}
	return profiles, nil
}

// ImportProfile imports a single profile from a JSON file.
func ImportProfile(path string) (model.GCodeProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.GCodeProfile{}, err
	}

	var profile model.GCodeProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return model.GCodeProfile{}, err
	}

	if err := validateProfile(profile); err != nil {
		return model.GCodeProfile{}, err
	}
	return profile, nil
}

func validateProfile(p model.GCodeProfile) error {
	switch {
	case p.Name == "":
		return errors.New("profile has no name")
	case p.RapidMove == "" || p.FeedMove == "":
		return fmt.Errorf("profile %q needs rapid_move and feed_move", p.Name)
	case p.DecimalPlaces < 0 || p.DecimalPlaces > 6:
		return fmt.Errorf("profile %q: decimal_places must be 0-6", p.Name)
	}
	return nil
}
