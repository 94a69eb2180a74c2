package gesture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStoreSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gesture_map.json")
	store := NewMapStore(path, nil)
	require.NoError(t, store.Load())

	assert.Equal(t, DefaultMap(), store.All())

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]string
	require.NoError(t, json.Unmarshal(payload, &onDisk))
	assert.Equal(t, DefaultMap(), onDisk)
	assert.Contains(t, string(payload), "\n  \"fist\"")
}

func TestMapStoreLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gesture_map.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"wave":"Goodbye"}`), 0o644))

	store := NewMapStore(path, nil)
	require.NoError(t, store.Load())
	assert.Equal(t, map[string]string{"wave": "Goodbye"}, store.All())
}

func TestMapStorePhraseFallsBackToUnknown(t *testing.T) {
	store := NewMapStore(filepath.Join(t.TempDir(), "m.json"), nil)
	require.NoError(t, store.Load())

	assert.Equal(t, "Hello, how are you?", store.Phrase("fist"))
	assert.Equal(t, UnknownPhrase, store.Phrase("thumbs_up"))
}

func TestMapStoreMergeIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gesture_map.json")
	store := NewMapStore(path, nil)
	require.NoError(t, store.Load())

	partial := map[string]string{"fist": "Good morning", "thumbs_up": "Yes"}
	require.NoError(t, store.Merge(partial))
	first := store.All()
	firstBytes, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.Merge(partial))
	assert.Equal(t, first, store.All())
	secondBytes, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)

	assert.Equal(t, "Good morning", first["fist"])
	assert.Equal(t, "Thank you very much", first["open_hand"])
	assert.Equal(t, "Yes", first["thumbs_up"])
}

func TestMapStoreMergeNormalizesLabels(t *testing.T) {
	store := NewMapStore(filepath.Join(t.TempDir(), "m.json"), nil)
	require.NoError(t, store.Load())

	require.NoError(t, store.Merge(map[string]string{"  café ": "Coffee please"}))
	phrase, ok := store.Get("café")
	require.True(t, ok)
	assert.Equal(t, "Coffee please", phrase)
}

func TestMapStoreReloadIgnoresOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gesture_map.json")
	store := NewMapStore(path, nil)
	require.NoError(t, store.Load())

	changed, err := store.reload()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(`{"wave":"Bye"}`), 0o644))
	changed, err = store.reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, map[string]string{"wave": "Bye"}, store.All())
}

func TestMapStoreWatchPicksUpExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gesture_map.json")
	store := NewMapStore(path, nil)
	require.NoError(t, store.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan map[string]string, 1)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, 20*time.Millisecond, func(m map[string]string) {
			select {
			case reloaded <- m:
			default:
			}
		})
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"wave":"See you"}`), 0o644))

	select {
	case m := <-reloaded:
		assert.Equal(t, "See you", m["wave"])
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload the gesture map")
	}

	cancel()
	require.NoError(t, <-done)
}
