package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/store"
)

var bazOnly = crawler.WheelMetadata{RequiresDist: []string{"baz"}}

func inlineOnly() crawler.DepsRecord {
	rec := crawler.DepsRecord{}
	rec.Put("py3", "1.0", "foo_bar-1.0-py3-none-any.whl", crawler.InlineEntry(bazOnly))
	rec.Put("py3", "1.1", "foo_bar-1.1-py3-none-any.whl", crawler.InlineEntry(bazOnly))
	rec.Put("py3", "1.1", "foo_bar-1.1-py3-none-win32.whl", crawler.InlineEntry(crawler.WheelMetadata{
		RequiresDist:   []string{"baz", "pywin32"},
		ProvidesExtras: []string{"dev"},
	}))
	rec.Put("cp311", "1.1", "foo_bar-1.1-cp311-cp311-linux_x86_64.whl", crawler.InlineEntry(bazOnly))
	return rec
}

func TestCompressCollapsesIdenticalEntries(t *testing.T) {
	t.Parallel()

	rec := inlineOnly()
	refs, err := Compress(rec)
	require.NoError(t, err)
	require.Equal(t, 1, refs)

	require.False(t, rec["py3"]["1.0"]["foo_bar-1.0-py3-none-any.whl"].IsRef())
	require.Equal(t, crawler.RefEntry("1.0", "foo_bar-1.0-py3-none-any.whl"), rec["py3"]["1.1"]["foo_bar-1.1-py3-none-any.whl"])
	require.False(t, rec["py3"]["1.1"]["foo_bar-1.1-py3-none-win32.whl"].IsRef())
	require.False(t, rec["cp311"]["1.1"]["foo_bar-1.1-cp311-cp311-linux_x86_64.whl"].IsRef(), "references never cross pyver groups")
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	t.Parallel()

	original := inlineOnly()
	rec := original.Clone()
	_, err := Compress(rec)
	require.NoError(t, err)
	require.NoError(t, Decompress(rec))
	require.Equal(t, original, rec)
}

func TestCompressIsIdempotent(t *testing.T) {
	t.Parallel()

	once := inlineOnly()
	_, err := Compress(once)
	require.NoError(t, err)

	twice := once.Clone()
	refs, err := Compress(twice)
	require.NoError(t, err)
	require.Equal(t, 1, refs)
	require.Equal(t, once, twice)
}

func TestCompressOrdersVersionsLexicographically(t *testing.T) {
	t.Parallel()

	rec := crawler.DepsRecord{}
	rec.Put("py3", "10.0", "a.whl", crawler.InlineEntry(bazOnly))
	rec.Put("py3", "9.0", "b.whl", crawler.InlineEntry(bazOnly))
	rec.Put("py3", "9.0", "a.whl", crawler.InlineEntry(bazOnly))

	_, err := Compress(rec)
	require.NoError(t, err)
	require.False(t, rec["py3"]["10.0"]["a.whl"].IsRef())
	require.Equal(t, crawler.RefEntry("10.0", "a.whl"), rec["py3"]["9.0"]["a.whl"])
	require.Equal(t, crawler.RefEntry("10.0", "a.whl"), rec["py3"]["9.0"]["b.whl"])
}

func TestDecompressFollowsChains(t *testing.T) {
	t.Parallel()

	rec := crawler.DepsRecord{}
	rec.Put("py3", "1.0", "a.whl", crawler.InlineEntry(bazOnly))
	rec.Put("py3", "1.1", "b.whl", crawler.RefEntry("1.0", "a.whl"))
	rec.Put("py3", "1.2", "c.whl", crawler.RefEntry("1.1", "b.whl"))

	require.NoError(t, Decompress(rec))
	require.Equal(t, crawler.InlineEntry(bazOnly), rec["py3"]["1.2"]["c.whl"])
}

func TestDecompressRejectsBrokenReferences(t *testing.T) {
	t.Parallel()

	dangling := crawler.DepsRecord{}
	dangling.Put("py3", "1.0", "a.whl", crawler.RefEntry("0.9", "gone.whl"))
	require.ErrorIs(t, Decompress(dangling), ErrDanglingReference)

	cyclic := crawler.DepsRecord{}
	cyclic.Put("py3", "1.0", "a.whl", crawler.RefEntry("1.1", "b.whl"))
	cyclic.Put("py3", "1.1", "b.whl", crawler.RefEntry("1.0", "a.whl"))
	require.ErrorIs(t, Decompress(cyclic), ErrDanglingReference)

	crossGroup := crawler.DepsRecord{}
	crossGroup.Put("py2", "1.0", "a.whl", crawler.InlineEntry(bazOnly))
	crossGroup.Put("py3", "1.0", "b.whl", crawler.RefEntry("1.0", "a.whl"))
	_, err := Compress(crossGroup)
	require.ErrorIs(t, err, ErrDanglingReference)
}

func TestCompressBucket(t *testing.T) {
	t.Parallel()

	s, err := store.Open[crawler.DepsRecord](t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Set("foo-bar", inlineOnly()))
	key := store.BucketOf("foo-bar")
	_, err = s.SaveBucket(key)
	require.NoError(t, err)

	stats, err := CompressBucket(s, key)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Changed)
	require.Equal(t, 1, stats.References)
	require.True(t, s.Dirty(key))
	_, err = s.SaveBucket(key)
	require.NoError(t, err)

	stats, err = CompressBucket(s, key)
	require.NoError(t, err)
	require.Zero(t, stats.Changed)
	require.False(t, s.Dirty(key), "compressing compressed data leaves the bucket clean")

	stats, err = DecompressBucket(s, key)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Changed)
	got, _ := s.Get("foo-bar")
	require.Equal(t, inlineOnly(), got)
}
