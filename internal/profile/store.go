// Package profile loads fan profiles from disk and watches them for
// changes.
//
// Layout below the profile directory:
//
//	profiles/active_profile.json  {"fan": "<name>", "fans": ["<name>", ...]}
//	fan/<name>.json               [{"temp": 50, "fan": 20, "power_limit": 0}, ...]
//
// Files may contain comments and trailing commas.
package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/fancontrol"
	"codeberg.org/mutker/fanctl/internal/logger"
	"github.com/tidwall/jsonc"
)

const (
	DefaultDir = "/etc/fanctl"

	profilesDir      = "profiles"
	fanDir           = "fan"
	activeProfile    = "active_profile.json"
	profileExtension = ".json"
	defaultDirPerm   = 0o755
)

// Info names the active fan profiles. Fans overrides Fan per fan index;
// an empty entry falls back to Fan.
type Info struct {
	Fan  string   `json:"fan"`
	Fans []string `json:"fans,omitempty"`
}

// NameFor returns the profile name for the given fan index.
func (i Info) NameFor(fan int) string {
	if fan >= 0 && fan < len(i.Fans) && i.Fans[fan] != "" {
		return i.Fans[fan]
	}
	return i.Fan
}

// Store reads profiles from a directory.
type Store struct {
	dir    string
	logger logger.Logger
}

func NewStore(dir string, log logger.Logger) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{dir: dir, logger: log}
}

// Dir returns the profile directory.
func (s *Store) Dir() string {
	return s.dir
}

// ActivePath returns the path of the active profile selection.
func (s *Store) ActivePath() string {
	return filepath.Join(s.dir, profilesDir, activeProfile)
}

// FanPath returns the path of the named fan profile.
func (s *Store) FanPath(name string) (string, error) {
	normalized, err := normalizeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, fanDir, normalized), nil
}

// Init creates the profile directories if they are missing.
func (s *Store) Init() error {
	for _, dir := range []string{profilesDir, fanDir} {
		if err := os.MkdirAll(filepath.Join(s.dir, dir), defaultDirPerm); err != nil {
			return errors.New().Wrap(errors.ErrProfileRead, err)
		}
	}
	return nil
}

// ActiveInfo reads the active profile selection.
func (s *Store) ActiveInfo() (Info, error) {
	var info Info
	if err := readJSONC(s.ActivePath(), &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Load returns one profile per fan. Any unreadable or invalid file fails
// the whole load.
func (s *Store) Load(fanCount int) ([]fancontrol.Profile, error) {
	info, err := s.ActiveInfo()
	if err != nil {
		return nil, err
	}

	cache := make(map[string]fancontrol.Profile)
	profiles := make([]fancontrol.Profile, fanCount)
	for fan := range profiles {
		name := info.NameFor(fan)
		if p, ok := cache[name]; ok {
			profiles[fan] = p
			continue
		}

		p, err := s.LoadFan(name)
		if err != nil {
			return nil, err
		}
		cache[name] = p
		profiles[fan] = p
	}

	return profiles, nil
}

// LoadFan reads and validates one named fan profile.
func (s *Store) LoadFan(name string) (fancontrol.Profile, error) {
	path, err := s.FanPath(name)
	if err != nil {
		return fancontrol.Profile{}, err
	}

	var points []fancontrol.Point
	if err := readJSONC(path, &points); err != nil {
		return fancontrol.Profile{}, err
	}
	if err := Validate(points); err != nil {
		return fancontrol.Profile{}, err
	}

	return fancontrol.NewProfile(points), nil
}

// LoadOrDefault is Load, falling back to the built-in default profile for
// every fan when the configured profiles cannot be used.
func (s *Store) LoadOrDefault(fanCount int) []fancontrol.Profile {
	profiles, err := s.Load(fanCount)
	if err == nil {
		return profiles
	}

	var appErr errors.Error
	if errors.As(err, &appErr) {
		s.logger.ErrorWithCode(appErr).Str("dir", s.dir).Msg("Failed to load fan profiles, using default")
	} else {
		s.logger.Error().Err(err).Str("dir", s.dir).Msg("Failed to load fan profiles, using default")
	}

	profiles = make([]fancontrol.Profile, fanCount)
	for i := range profiles {
		profiles[i] = fancontrol.DefaultProfile()
	}
	return profiles
}

// Validate rejects profiles the controller would steer badly: no points,
// fan speeds above 100, duplicate temperatures, or a fan curve that drops
// as the temperature rises.
func Validate(points []fancontrol.Point) error {
	errFactory := errors.New()

	if len(points) == 0 {
		return errFactory.WithData(errors.ErrProfileInvalid, "no points")
	}

	sorted := fancontrol.NewProfile(points).Points()
	for i, p := range points {
		if p.FanPercent > 100 {
			return errFactory.WithData(errors.ErrProfileInvalid, struct {
				Point int
				Fan   uint8
			}{i, p.FanPercent})
		}
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Temperature == prev.Temperature {
			return errFactory.WithData(errors.ErrProfileInvalid, struct {
				DuplicateTemperature uint8
			}{cur.Temperature})
		}
		if cur.FanPercent < prev.FanPercent {
			return errFactory.WithData(errors.ErrProfileInvalid, struct {
				DecreasingAt uint8
			}{cur.Temperature})
		}
	}

	return nil
}

// normalizeName turns a profile name into a file name inside the fan
// directory. Names must not escape that directory.
func normalizeName(name string) (string, error) {
	errFactory := errors.New()

	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", errFactory.WithData(errors.ErrProfileInvalid, struct {
			Name string
		}{name})
	}
	if !strings.HasSuffix(name, profileExtension) {
		name += profileExtension
	}
	return name, nil
}

func readJSONC(path string, v any) error {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return errFactory.Wrap(errors.ErrProfileRead, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
		return errFactory.WithData(errors.ErrProfileInvalid, struct {
			Path  string
			Error string
		}{path, err.Error()})
	}
	return nil
}
