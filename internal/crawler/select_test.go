package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sdist(name string) ReleaseFile {
	return ReleaseFile{Filename: name, PackageType: PackageTypeSdist, Digests: Digests{Sha256: "sha-" + name}}
}

func TestSelectSourceArtifact_PrefersEarlierSuffixOverShorterName(t *testing.T) {
	t.Parallel()

	got, ok := SelectSourceArtifact([]ReleaseFile{sdist("pkg-1.0.tar.gz"), sdist("pkg.zip")})
	require.True(t, ok)
	require.Equal(t, "pkg-1.0.tar.gz", got.Filename)
}

func TestSelectSourceArtifact_ShortestWithinSuffix(t *testing.T) {
	t.Parallel()

	got, ok := SelectSourceArtifact([]ReleaseFile{
		sdist("Foo-Bar-1.0.tar.gz"),
		sdist("foo-1.0.tar.gz"),
		sdist("foo-1.0.tgz"),
	})
	require.True(t, ok)
	require.Equal(t, "foo-1.0.tar.gz", got.Filename)
}

func TestSelectSourceArtifact_OrderIndependent(t *testing.T) {
	t.Parallel()

	files := []ReleaseFile{
		sdist("pkg-1.0.zip"),
		sdist("pkg-1.0.tar.bz2"),
		sdist("abc-1.0.tgz"),
		sdist("xyz-1.0.tgz"),
		sdist("pkg-1.0.tgz.asc"),
	}
	want, ok := SelectSourceArtifact(files)
	require.True(t, ok)
	require.Equal(t, "abc-1.0.tgz", want.Filename)

	perms := [][]int{{4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}, {3, 1, 0, 4, 2}}
	for _, perm := range perms {
		shuffled := make([]ReleaseFile, len(files))
		for i, idx := range perm {
			shuffled[i] = files[idx]
		}
		got, ok := SelectSourceArtifact(shuffled)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestSelectSourceArtifact_NoAcceptedSuffix(t *testing.T) {
	t.Parallel()

	_, ok := SelectSourceArtifact([]ReleaseFile{sdist("pkg-1.0.exe"), sdist("pkg-1.0.rpm")})
	require.False(t, ok)

	_, ok = SelectSourceArtifact(nil)
	require.False(t, ok)
}
