package crawler

import "strings"

// SourceSuffixes lists accepted source archive suffixes, most preferred
// first.
var SourceSuffixes = []string{"tar.gz", ".tgz", ".zip", ".tar.bz2"}

// SelectSourceArtifact picks the preferred source distribution among
// candidates. The first suffix with any match wins regardless of filename
// length; within it the shortest filename wins.
//
// Equal-length names are broken by taking the lexicographically smaller
// one, not the first one listed. This departs from first-encountered-wins
// on purpose: the registry does not guarantee file order, and a stored
// record must not change because a listing was reshuffled.
func SelectSourceArtifact(candidates []ReleaseFile) (ReleaseFile, bool) {
	for _, suffix := range SourceSuffixes {
		var (
			best  ReleaseFile
			found bool
		)
		for _, c := range candidates {
			if !strings.HasSuffix(c.Filename, suffix) {
				continue
			}
			if !found || better(c.Filename, best.Filename) {
				best = c
				found = true
			}
		}
		if found {
			return best, true
		}
	}
	return ReleaseFile{}, false
}

func better(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
