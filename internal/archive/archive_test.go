package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSaveAndLookup(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()
	key := Key{Hash: "abc", Backend: "whisper", Language: "en", Format: "timed"}

	_, err := a.Lookup(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))

	id, err := a.Save(ctx, Record{
		Key:        key,
		Name:       "call.wav",
		Text:       "1\n00:00:00,000 --> 00:00:30,000\nhello\n",
		DurationMs: 45000,
		Segments: []Segment{
			{Index: 0, StartMs: 0, EndMs: 30000, Text: "hello"},
			{Index: 1, StartMs: 29700, EndMs: 45000, Text: ""},
		},
	})
	require.NoError(t, err)

	rec, err := a.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "call.wav", rec.Name)
	assert.Equal(t, int64(45000), rec.DurationMs)
	assert.False(t, rec.CreatedAt.IsZero())

	segs, err := a.Segments(ctx, id)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, int64(29700), segs[1].StartMs)

	// other language is a different entry
	_, err = a.Lookup(ctx, Key{Hash: "abc", Backend: "whisper", Language: "ms", Format: "timed"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveReplacesExisting(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()
	key := Key{Hash: "h", Backend: "malaysia-whisper", Language: "ms", Format: "plain"}

	first, err := a.Save(ctx, Record{Key: key, Name: "a", Text: "one", Segments: []Segment{{Index: 0, EndMs: 1}, {Index: 1, EndMs: 2}}})
	require.NoError(t, err)
	second, err := a.Save(ctx, Record{Key: key, Name: "b", Text: "two", Segments: []Segment{{Index: 0, EndMs: 1}}})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rec, err := a.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "two", rec.Text)
	segs, err := a.Segments(ctx, second)
	require.NoError(t, err)
	assert.Len(t, segs, 1)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(path, []byte("segscribe"), 0o644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := HashReader(strings.NewReader("segscribe"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
