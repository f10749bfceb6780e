package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/fancontrol"
	"codeberg.org/mutker/fanctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quietProfile = `// quiet until 60°C
[
	{"temp": 45, "fan": 0},
	{"temp": 60, "fan": 20},
	{"temp": 80, "fan": 70, "power_limit": 10},
	{"temp": 90, "fan": 100, "power_limit": 25}, // trailing comma is fine
]`

const loudProfile = `[{"temp": 30, "fan": 40}, {"temp": 70, "fan": 100}]`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(t.TempDir(), logger.New("test"))
	require.NoError(t, store.Init())
	return store
}

func writeProfile(t *testing.T, store *Store, name, content string) {
	t.Helper()
	path, err := store.FanPath(name)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeActive(t *testing.T, store *Store, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(store.ActivePath(), []byte(content), 0o644))
}

func TestLoadSharedProfile(t *testing.T) {
	store := newTestStore(t)
	writeProfile(t, store, "quiet", quietProfile)
	writeActive(t, store, `{"fan": "quiet"}`)

	profiles, err := store.Load(2)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	assert.Equal(t, profiles[0].Points(), profiles[1].Points())
	assert.Equal(t, uint8(20), profiles[0].TargetFanPercent(60))
	assert.Equal(t, uint8(10), profiles[0].TargetPowerLimit(85))
}

func TestLoadPerFanProfiles(t *testing.T) {
	store := newTestStore(t)
	writeProfile(t, store, "quiet", quietProfile)
	writeProfile(t, store, "loud.json", loudProfile)
	writeActive(t, store, `{"fan": "quiet", "fans": ["", "loud.json"]}`)

	profiles, err := store.Load(3)
	require.NoError(t, err)

	assert.Equal(t, uint8(0), profiles[0].TargetFanPercent(40))
	assert.Equal(t, uint8(40), profiles[1].TargetFanPercent(30))
	assert.Equal(t, uint8(0), profiles[2].TargetFanPercent(40))
}

func TestLoadErrors(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(1)
	assert.True(t, errors.HasCode(err, errors.ErrProfileRead))

	writeActive(t, store, `{"fan": "../../etc/passwd"}`)
	_, err = store.Load(1)
	assert.True(t, errors.HasCode(err, errors.ErrProfileInvalid))

	writeActive(t, store, `{"fan": "missing"}`)
	_, err = store.Load(1)
	assert.True(t, errors.HasCode(err, errors.ErrProfileRead))

	writeProfile(t, store, "broken", `[{"temp": 40, "fan": }]`)
	writeActive(t, store, `{"fan": "broken"}`)
	_, err = store.Load(1)
	assert.True(t, errors.HasCode(err, errors.ErrProfileInvalid))
}

func TestLoadOrDefault(t *testing.T) {
	store := newTestStore(t)

	profiles := store.LoadOrDefault(2)
	require.Len(t, profiles, 2)
	for _, p := range profiles {
		assert.Equal(t, fancontrol.DefaultProfile().Points(), p.Points())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		points  []fancontrol.Point
		wantErr bool
	}{
		{"valid", []fancontrol.Point{{Temperature: 40, FanPercent: 0}, {Temperature: 60, FanPercent: 50}}, false},
		{"unsorted but monotonic", []fancontrol.Point{{Temperature: 60, FanPercent: 50}, {Temperature: 40, FanPercent: 0}}, false},
		{"empty", nil, true},
		{"over 100", []fancontrol.Point{{Temperature: 40, FanPercent: 101}}, true},
		{"duplicate temperature", []fancontrol.Point{{Temperature: 40, FanPercent: 0}, {Temperature: 40, FanPercent: 10}}, true},
		{"decreasing", []fancontrol.Point{{Temperature: 40, FanPercent: 50}, {Temperature: 60, FanPercent: 20}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.points)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrProfileInvalid))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	name, err := normalizeName("silent")
	require.NoError(t, err)
	assert.Equal(t, "silent.json", name)

	name, err = normalizeName("silent.json")
	require.NoError(t, err)
	assert.Equal(t, "silent.json", name)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := normalizeName(bad)
		assert.Error(t, err, bad)
	}
}

func TestInfoNameFor(t *testing.T) {
	info := Info{Fan: "default", Fans: []string{"cpu", ""}}

	assert.Equal(t, "cpu", info.NameFor(0))
	assert.Equal(t, "default", info.NameFor(1))
	assert.Equal(t, "default", info.NameFor(2))
}

func TestWatchReloadsOnChange(t *testing.T) {
	store := newTestStore(t)
	writeProfile(t, store, "quiet", quietProfile)
	writeActive(t, store, `{"fan": "quiet"}`)

	var (
		mu      sync.Mutex
		applied []fancontrol.Profile
	)
	apply := func(_ context.Context, profiles []fancontrol.Profile) error {
		mu.Lock()
		defer mu.Unlock()
		applied = profiles
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, 1, apply)
	}()

	path, err := store.FanPath("quiet")
	require.NoError(t, err)

	// keep touching the file until the watcher has picked it up
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(loudProfile), 0o644)
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 1 && applied[0].TargetFanPercent(30) == 40
	}, 10*time.Second, 2*reloadDelay)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}
}

func TestWatchKeepsProfilesOnInvalidReload(t *testing.T) {
	store := newTestStore(t)
	writeActive(t, store, `{"fan": "quiet"}`)
	writeProfile(t, store, "quiet", quietProfile)

	calls := 0
	err := store.Reload(context.Background(), 1, func(context.Context, []fancontrol.Profile) error { calls++; return nil })
	require.NoError(t, err)

	writeProfile(t, store, "quiet", `[]`)
	err = store.Reload(context.Background(), 1, func(context.Context, []fancontrol.Profile) error { calls++; return nil })
	assert.True(t, errors.HasCode(err, errors.ErrConfigSwap))
	assert.Equal(t, 1, calls)
}

func TestFanPathStaysInsideDir(t *testing.T) {
	store := NewStore("/etc/fanctl", logger.New("test"))

	path, err := store.FanPath("balanced")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/etc/fanctl", "fan", "balanced.json"), path)
	assert.Equal(t, filepath.Join("/etc/fanctl", "profiles", "active_profile.json"), store.ActivePath())
}

func TestReloadReportsApplyFailure(t *testing.T) {
	store := newTestStore(t)
	writeProfile(t, store, "quiet", quietProfile)
	writeActive(t, store, `{"fan": "quiet"}`)

	busy := errors.New().Wrap(errors.ErrConfigSwap, context.DeadlineExceeded)
	err := store.Reload(context.Background(), 2, func(context.Context, []fancontrol.Profile) error {
		return errors.Join(nil, busy)
	})
	assert.True(t, errors.HasCode(err, errors.ErrConfigSwap))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	err = store.Reload(context.Background(), 1, func(context.Context, []fancontrol.Profile) error {
		return fmt.Errorf("fan 0 rejected profile")
	})
	assert.True(t, errors.HasCode(err, errors.ErrConfigSwap))
}
