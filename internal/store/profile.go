// Package store resolves which local cache a client opens. Each profile (a
// signed-in account on this device) gets its own SQLite file so queues never
// mix between users.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// DefaultProfile is used when nothing else selects a profile.
const DefaultProfile = "default"

// ProfileEnv names the environment variable consulted by ResolveProfile.
const ProfileEnv = "FITSYNC_PROFILE"

// ErrInvalidProfileID indicates the profile ID format is invalid.
var ErrInvalidProfileID = errors.New("invalid profile ID: must be 1-64 lowercase alphanumeric characters, hyphens or underscores")

// profileIDRegex: lowercase alphanumerics, '-' and '_', no leading separator.
var profileIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateProfileID checks a profile ID.
func ValidateProfileID(id string) error {
	if !profileIDRegex.MatchString(id) {
		return ErrInvalidProfileID
	}
	return nil
}

// ResolveProfile determines the profile to use.
// Priority: explicit > FITSYNC_PROFILE env > "default"
func ResolveProfile(explicit string) (string, error) {
	if explicit != "" {
		if err := ValidateProfileID(explicit); err != nil {
			return "", fmt.Errorf("invalid profile %q: %w", explicit, err)
		}
		return explicit, nil
	}

	if env := os.Getenv(ProfileEnv); env != "" {
		if err := ValidateProfileID(env); err != nil {
			return "", fmt.Errorf("invalid %s %q: %w", ProfileEnv, env, err)
		}
		return env, nil
	}

	return DefaultProfile, nil
}

// DefaultRoot returns the directory holding all profiles.
// Defaults to ~/.fitsync/profiles, falls back to ./.fitsync/profiles if home dir unavailable.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".fitsync", "profiles")
	}
	return filepath.Join(home, ".fitsync", "profiles")
}

// ProfileDBPath returns the cache database path of a profile under root.
// Example: ProfileDBPath(root, "alice") -> <root>/alice/cache.db
func ProfileDBPath(root, profile string) string {
	return filepath.Join(root, profile, "cache.db")
}

// ListProfiles returns the profiles under root that have a cache database,
// sorted by name. A missing root yields an empty list.
func ListProfiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	var profiles []string
	for _, e := range entries {
		if !e.IsDir() || ValidateProfileID(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(ProfileDBPath(root, e.Name())); err == nil {
			profiles = append(profiles, e.Name())
		}
	}
	sort.Strings(profiles)
	return profiles, nil
}
