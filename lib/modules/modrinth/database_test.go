package modrinth

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/pyrohost/prometheus/lib/codec"
	"github.com/pyrohost/prometheus/lib/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T, path string) *Handler {
	t.Helper()
	opts := docstore.DefaultOptions()
	opts.Codec = codec.NewJSONCodec()
	s, err := docstore.Open[Database](path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewHandler(s)
}

func TestLinkAccount(t *testing.T) {
	h := newHandler(t, filepath.Join(t.TempDir(), "modrinth.db"))

	_, ok := h.GetModrinthID(1)
	assert.False(t, ok)

	assert.ErrorIs(t, h.LinkAccount(1, " "), ErrEmptyModrinthID)
	require.NoError(t, h.LinkAccount(1, "Dc7EYhxG"))
	require.NoError(t, h.LinkAccount(1, "Dc7EYhxG"), "relinking the same account")
	assert.ErrorIs(t, h.LinkAccount(2, "dc7eyhxg"), ErrAlreadyLinked)

	id, ok := h.GetModrinthID(1)
	assert.True(t, ok)
	assert.Equal(t, "Dc7EYhxG", id)

	require.NoError(t, h.LinkAccount(1, "other"))
	id, _ = h.GetModrinthID(1)
	assert.Equal(t, "other", id)
}

func TestUnlinkAccount(t *testing.T) {
	h := newHandler(t, filepath.Join(t.TempDir(), "modrinth.db"))

	assert.ErrorIs(t, h.UnlinkAccount(1), ErrNotLinked)
	require.NoError(t, h.LinkAccount(1, "abc"))
	require.NoError(t, h.UnlinkAccount(1))
	_, ok := h.GetModrinthID(1)
	assert.False(t, ok)
}

func TestLinkedAccountsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modrinth.db")
	h := newHandler(t, path)

	var wg sync.WaitGroup
	for i := uint64(1); i <= 20; i++ {
		wg.Add(1)
		go func(i uint64) {
			defer wg.Done()
			assert.NoError(t, h.LinkAccount(i, "user-"+string(rune('a'+i))))
		}(i)
	}
	wg.Wait()
	require.NoError(t, h.Store().Close())

	reopened := newHandler(t, path)
	links := reopened.LinkedAccounts()
	require.Len(t, links, 20)
	assert.Equal(t, Link{DiscordID: 1, ModrinthID: "user-b"}, links[0])
	assert.Equal(t, uint64(20), links[19].DiscordID)
}
