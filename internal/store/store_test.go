package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
)

func openIndex(t *testing.T, dir string, opts ...Option) *Store[crawler.PackageRecord] {
	t.Helper()
	s, err := Open[crawler.PackageRecord](dir, opts...)
	require.NoError(t, err)
	return s
}

func sampleRecord(sha string) crawler.PackageRecord {
	return crawler.PackageRecord{
		"1.0": {Sdist: &crawler.SourceArtifact{Filename: "foo-bar-1.0.tar.gz", Sha256: sha}},
	}
}

func TestBucketOfNameVariants(t *testing.T) {
	t.Parallel()

	key := BucketOf("foo-bar")
	for _, name := range []string{"Foo_Bar", "FOO_bar", "foo_bar", " foo-bar "} {
		require.Equal(t, key, BucketOf(name), name)
	}
	_, err := ParseBucketKey(string(key))
	require.NoError(t, err)
}

func TestAllBucketKeys(t *testing.T) {
	t.Parallel()

	keys := AllBucketKeys()
	require.Len(t, keys, BucketCount)
	require.Equal(t, BucketKey("0"), keys[0])
	require.Equal(t, BucketKey("f"), keys[15])

	require.Equal(t, []BucketKey{"e", "f"}, KeysFrom("e"))
	require.Nil(t, KeysFrom("z"))

	_, err := ParseBucketKey("10")
	require.Error(t, err)
	k, err := ParseBucketKey("A")
	require.NoError(t, err)
	require.Equal(t, BucketKey("a"), k)
}

func TestStoreSetGetAcrossSpellings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openIndex(t, dir)
	require.NoError(t, s.Set("Foo_Bar", sampleRecord("aaa")))

	got, ok := s.Get("foo-bar")
	require.True(t, ok)
	require.Equal(t, sampleRecord("aaa"), got)
	require.Equal(t, []string{"foo-bar"}, s.KeysInBucket(BucketOf("FOO_bar")))

	require.NoError(t, s.Save())

	reopened := openIndex(t, dir)
	got, ok = reopened.Get("FOO_bar")
	require.True(t, ok)
	require.Equal(t, sampleRecord("aaa"), got)
}

func TestStoreSaveSkipsCleanBuckets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openIndex(t, dir)
	require.NoError(t, s.Set("foo-bar", sampleRecord("aaa")))
	require.NoError(t, s.Save())

	key := BucketOf("foo-bar")
	path := s.Path(key)
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	reopened := openIndex(t, dir)
	_, ok := reopened.Get("foo-bar")
	require.True(t, ok)
	require.Equal(t, 1, reopened.Len(key))
	require.NoError(t, reopened.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(past), "clean bucket was rewritten")

	// Untouched buckets never get a file.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, reopened.Set("foo-bar", sampleRecord("bbb")))
	wrote, err := reopened.SaveBucket(key)
	require.NoError(t, err)
	require.True(t, wrote)
	info, err = os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.ModTime().After(past))
}

func TestStoreRestrictedBucket(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inside := "foo-bar"
	key := BucketOf(inside)

	var outside string
	for _, candidate := range []string{"a", "b", "c", "d", "e", "requests", "numpy", "django"} {
		if BucketOf(candidate) != key {
			outside = candidate
			break
		}
	}
	require.NotEmpty(t, outside)

	// Seed the other bucket's file so a read would be observable.
	seed := openIndex(t, dir)
	require.NoError(t, seed.Set(outside, sampleRecord("zzz")))
	require.NoError(t, seed.Save())

	s := openIndex(t, dir, WithBucket(key))
	require.NoError(t, s.Set(inside, sampleRecord("aaa")))
	require.ErrorIs(t, s.Set(outside, sampleRecord("bbb")), ErrOutsideBucket)

	_, ok := s.Get(outside)
	require.False(t, ok)
	require.Empty(t, s.KeysInBucket(BucketOf(outside)))
	require.Equal(t, []BucketKey{key}, s.Loaded())

	restricted, ok := s.Restricted()
	require.True(t, ok)
	require.Equal(t, key, restricted)
}

func TestStoreCorruptAndMissingFilesLoadEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openIndex(t, dir, WithLogger(zap.NewNop()))
	key := BucketOf("foo-bar")
	require.NoError(t, os.WriteFile(s.Path(key), []byte("{not json"), 0o600))

	_, ok := s.Get("foo-bar")
	require.False(t, ok)
	require.Zero(t, s.Len(key))
	require.Zero(t, s.Len(BucketOf("requests")))
	require.False(t, s.Dirty(key))

	require.NoError(t, s.Set("foo-bar", sampleRecord("aaa")))
	require.NoError(t, s.Save())

	reopened := openIndex(t, dir)
	_, ok = reopened.Get("foo-bar")
	require.True(t, ok)
}

func TestStoreNullBucketFileLoadsEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openIndex(t, dir, WithLogger(zap.NewNop()))
	key := BucketOf("foo-bar")
	require.NoError(t, os.WriteFile(s.Path(key), []byte("null\n"), 0o600))

	require.Zero(t, s.Len(key))
	require.NotPanics(t, func() {
		require.NoError(t, s.Set("foo-bar", sampleRecord("aaa")))
	})
	written, err := s.SaveBucket(key)
	require.NoError(t, err)
	require.True(t, written)

	got, ok := openIndex(t, dir).Get("foo-bar")
	require.True(t, ok)
	require.Equal(t, "aaa", got["1.0"].Sdist.Sha256)
}

func TestStoreUnload(t *testing.T) {
	t.Parallel()

	s := openIndex(t, t.TempDir())
	key := BucketOf("foo-bar")
	require.NoError(t, s.Set("foo-bar", sampleRecord("aaa")))
	require.ErrorIs(t, s.Unload(key), ErrDirtyBucket)

	require.NoError(t, s.Save())
	require.NoError(t, s.Unload(key))
	require.Empty(t, s.Loaded())

	_, ok := s.Get("foo-bar")
	require.True(t, ok, "unloaded bucket reloads from disk")
}

func TestStoreDelete(t *testing.T) {
	t.Parallel()

	s := openIndex(t, t.TempDir())
	require.NoError(t, s.Set("foo-bar", sampleRecord("aaa")))
	require.NoError(t, s.Save())
	key := BucketOf("foo-bar")

	require.NoError(t, s.Delete("unknown-package"))
	require.NoError(t, s.Delete("Foo_Bar"))
	require.True(t, s.Dirty(key))
	_, ok := s.Get("foo-bar")
	require.False(t, ok)
}

func TestStoreZstdCodec(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open[crawler.DepsRecord](dir, WithCodec(ZstdCodec{}))
	require.NoError(t, err)

	rec := crawler.DepsRecord{}
	rec.Put("py3", "1.0", "foo_bar-1.0-py3-none-any.whl", crawler.InlineEntry(crawler.WheelMetadata{RequiresDist: []string{"baz"}}))
	rec.Put("py3", "1.1", "foo_bar-1.1-py3-none-any.whl", crawler.RefEntry("1.0", "foo_bar-1.0-py3-none-any.whl"))
	require.NoError(t, s.Set("foo-bar", rec))
	require.NoError(t, s.Save())

	path := s.Path(BucketOf("foo-bar"))
	require.Equal(t, ".zst", filepath.Ext(path))

	reopened, err := Open[crawler.DepsRecord](dir, WithCodec(ZstdCodec{}))
	require.NoError(t, err)
	got, ok := reopened.Get("foo-bar")
	require.True(t, ok)
	require.Equal(t, rec, got)
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := openIndex(t, dir)
	for _, name := range []string{"foo-bar", "requests", "numpy", "django"} {
		require.NoError(t, s.Set(name, sampleRecord(name)))
	}
	require.NoError(t, s.Save())

	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestCodecFor(t *testing.T) {
	t.Parallel()

	c, err := CodecFor("zstd")
	require.NoError(t, err)
	require.Equal(t, ".json.zst", c.Extension())

	c, err = CodecFor("")
	require.NoError(t, err)
	require.Equal(t, ".json", c.Extension())

	_, err = CodecFor("lz4")
	require.Error(t, err)
}
