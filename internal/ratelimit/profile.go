package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profile is a named fixed-window limit.
type Profile struct {
	Name   string
	Window time.Duration
	Max    int
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name is required", ErrInvalidProfile)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: profile %s window must be positive", ErrInvalidProfile, p.Name)
	}
	if p.Max <= 0 {
		return fmt.Errorf("%w: profile %s max must be positive", ErrInvalidProfile, p.Name)
	}
	return nil
}

// Profile names used by the HTTP routes.
const (
	ProfileLogin          = "login"
	ProfileEmail          = "email"
	ProfileSMS            = "sms"
	ProfileNeedyCreate    = "needy_create"
	ProfileDonationCreate = "donation_create"
	ProfileStandard       = "standard"
	ProfileSensitive      = "sensitive"
	ProfilePublic         = "public"
)

// Defaults for the standard profile when the environment does not override them.
const (
	DefaultStandardMax    = 100
	DefaultStandardWindow = 15 * time.Minute
)

// Profiles is a read-only set of profiles keyed by name.
type Profiles struct {
	byName map[string]Profile
}

// NewProfiles validates and indexes the given profiles.
func NewProfiles(list ...Profile) (Profiles, error) {
	ps := Profiles{byName: make(map[string]Profile, len(list))}
	for _, p := range list {
		if err := p.validate(); err != nil {
			return Profiles{}, err
		}
		if _, dup := ps.byName[p.Name]; dup {
			return Profiles{}, fmt.Errorf("%w: duplicate profile %s", ErrInvalidProfile, p.Name)
		}
		ps.byName[p.Name] = p
	}
	return ps, nil
}

// DefaultProfiles returns the built-in profile set. Non-positive standard
// settings fall back to DefaultStandardMax and DefaultStandardWindow.
func DefaultProfiles(standardMax int, standardWindow time.Duration) Profiles {
	if standardMax <= 0 {
		standardMax = DefaultStandardMax
	}
	if standardWindow <= 0 {
		standardWindow = DefaultStandardWindow
	}
	ps, err := NewProfiles(
		Profile{Name: ProfileLogin, Window: 15 * time.Minute, Max: 5},
		Profile{Name: ProfileEmail, Window: time.Hour, Max: 50},
		Profile{Name: ProfileSMS, Window: time.Hour, Max: 20},
		Profile{Name: ProfileNeedyCreate, Window: time.Hour, Max: 100},
		Profile{Name: ProfileDonationCreate, Window: time.Hour, Max: 200},
		Profile{Name: ProfileStandard, Window: standardWindow, Max: standardMax},
		Profile{Name: ProfileSensitive, Window: time.Hour, Max: 5},
		Profile{Name: ProfilePublic, Window: time.Hour, Max: 1000},
	)
	if err != nil {
		panic(err)
	}
	return ps
}

// Lookup returns the profile registered under name.
func (ps Profiles) Lookup(name string) (Profile, bool) {
	p, ok := ps.byName[name]
	return p, ok
}

// MustLookup is Lookup for names known at compile time.
func (ps Profiles) MustLookup(name string) Profile {
	p, ok := ps.byName[name]
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown profile %q", name))
	}
	return p
}

// All returns the profiles sorted by name.
func (ps Profiles) All() []Profile {
	out := make([]Profile, 0, len(ps.byName))
	for _, p := range ps.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
