package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mavcam-bridge/internal/bridge"
)

func newTestStore(t *testing.T) (*SQLitePairingStore, *time.Time) {
	t.Helper()
	s, err := NewSQLitePairingStore(filepath.Join(t.TempDir(), "pairing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestLoadPairedEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok, err := s.LoadPaired(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveAndLoadMostRecent(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePaired(ctx, bridge.Identity{Name: "GoPro 1234", Address: "AA"}, "HERO9 Black"))
	*now = now.Add(time.Hour)
	require.NoError(t, s.SavePaired(ctx, bridge.Identity{Name: "GoPro 5678", Address: "BB"}, "HERO12 Black"))

	id, ok, err := s.LoadPaired(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "GoPro 5678", id.Name)
	assert.Equal(t, "BB", id.Address)

	*now = now.Add(time.Hour)
	require.NoError(t, s.SavePaired(ctx, bridge.Identity{Name: "GoPro 1234", Address: "AA"}, "HERO9 Black"))
	id, _, err = s.LoadPaired(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AA", id.Address)
}

func TestReconnectKeepsFirstPairing(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()
	first := *now

	require.NoError(t, s.SavePaired(ctx, bridge.Identity{Name: "GoPro 1234", Address: "AA"}, ""))
	*now = now.Add(24 * time.Hour)
	require.NoError(t, s.SavePaired(ctx, bridge.Identity{Name: "GoPro 1234", Address: "AA"}, "HERO11 Black"))

	cams, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, cams, 1)
	assert.True(t, cams[0].PairedAt.Equal(first))
	assert.True(t, cams[0].LastSeen.Equal(*now))
	assert.Equal(t, "HERO11 Black", cams[0].Model)
}

func TestForget(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePaired(ctx, bridge.Identity{Name: "GoPro 1234", Address: "AA"}, ""))

	removed, err := s.Forget(ctx, "AA")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Forget(ctx, "AA")
	require.NoError(t, err)
	assert.False(t, removed)
}
