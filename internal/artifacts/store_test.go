package artifacts

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndResolve(t *testing.T) {
	store, err := NewStore(t.TempDir(), "http://example.test/")
	require.NoError(t, err)

	locator, err := store.Save(KindMusic, "abc.mp3", strings.NewReader("audio"))
	require.NoError(t, err)
	assert.Equal(t, "music/abc.mp3", locator)
	assert.True(t, store.Exists(locator))
	assert.Equal(t, "http://example.test/files/music/abc.mp3", store.URL(locator))

	p, err := store.Path(locator)
	require.NoError(t, err)
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(raw))
}

func TestStoreRejectsTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir(), "")
	require.NoError(t, err)

	for _, locator := range []string{"music/../secret", "etc/passwd", "music/", "videos/.hidden", "music/a/b.mp3"} {
		_, err := store.Path(locator)
		assert.ErrorIs(t, err, ErrInvalidLocator, locator)
	}
	_, err = store.Save(KindImage, "../x.png", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrInvalidLocator)
}
