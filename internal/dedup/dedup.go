// Package dedup collapses repeated wheel metadata inside a dependency record
// into canonical references before a save, and expands them again before
// the record is mutated.
//
// References never cross a pyver group or a package. Within a group the
// first inline occurrence, in ascending version then filename order, is the
// canonical one.
package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
	"github.com/JakeFAU/pypi-harvester/internal/store"
)

// ErrDanglingReference marks a reference whose target is missing or that
// only leads back to other references.
var ErrDanglingReference = errors.New("dangling wheel reference")

// Decompress replaces every reference in rec with a copy of the inline entry
// it resolves to.
func Decompress(rec crawler.DepsRecord) error {
	for pyver, versions := range rec {
		for version, files := range versions {
			for filename, entry := range files {
				if !entry.IsRef() {
					continue
				}
				m, err := resolve(rec, pyver, entry)
				if err != nil {
					return fmt.Errorf("%s %s %s: %w", pyver, version, filename, err)
				}
				files[filename] = crawler.InlineEntry(m)
			}
		}
	}
	return nil
}

func resolve(rec crawler.DepsRecord, pyver string, entry crawler.WheelEntry) (crawler.WheelMetadata, error) {
	seen := make(map[string]struct{})
	for entry.IsRef() {
		if _, loop := seen[entry.Ref]; loop {
			return crawler.WheelMetadata{}, fmt.Errorf("cycle through %q: %w", entry.Ref, ErrDanglingReference)
		}
		seen[entry.Ref] = struct{}{}

		version, filename, ok := entry.Target()
		if !ok {
			return crawler.WheelMetadata{}, fmt.Errorf("malformed reference %q: %w", entry.Ref, ErrDanglingReference)
		}
		next, found := rec[pyver][version][filename]
		if !found {
			return crawler.WheelMetadata{}, fmt.Errorf("reference %q: %w", entry.Ref, ErrDanglingReference)
		}
		entry = next
	}
	return entry.Metadata.Clone(), nil
}

type canonical struct {
	version  string
	filename string
	metadata crawler.WheelMetadata
}

// Compress decompresses rec and then replaces every inline entry that equals
// an earlier inline entry of the same pyver group with a reference to it.
// Running it on already compressed data gives the same result as running it
// once. It returns the number of references in rec.
func Compress(rec crawler.DepsRecord) (int, error) {
	if err := Decompress(rec); err != nil {
		return 0, err
	}
	refs := 0
	for _, pyver := range sortedKeys(rec) {
		versions := rec[pyver]
		interned := make(map[uint64][]canonical)
		for _, version := range sortedKeys(versions) {
			files := versions[version]
			for _, filename := range sortedKeys(files) {
				m := files[filename].Metadata
				h, err := contentHash(m)
				if err != nil {
					return refs, fmt.Errorf("%s %s %s: %w", pyver, version, filename, err)
				}
				if c, ok := lookup(interned[h], m); ok {
					files[filename] = crawler.RefEntry(c.version, c.filename)
					refs++
					continue
				}
				interned[h] = append(interned[h], canonical{version: version, filename: filename, metadata: m})
			}
		}
	}
	return refs, nil
}

func lookup(candidates []canonical, m crawler.WheelMetadata) (canonical, bool) {
	for _, c := range candidates {
		if c.metadata.Equal(m) {
			return c, true
		}
	}
	return canonical{}, false
}

// contentHash interns metadata by its canonical JSON encoding. Collisions
// are resolved by the structural comparison in lookup.
func contentHash(m crawler.WheelMetadata) (uint64, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	return xxhash.Sum64(data), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stats summarises a bucket pass.
type Stats struct {
	Records    int
	Changed    int
	References int
}

// CompressBucket compresses every record of a loaded deps bucket and stores
// back the ones that changed. Records with broken references are left as
// they are and reported in the returned error.
func CompressBucket(s *store.Store[crawler.DepsRecord], key store.BucketKey) (Stats, error) {
	return apply(s, key, func(rec crawler.DepsRecord) (int, error) { return Compress(rec) })
}

// DecompressBucket expands every reference of a deps bucket so the records
// can be mutated safely.
func DecompressBucket(s *store.Store[crawler.DepsRecord], key store.BucketKey) (Stats, error) {
	return apply(s, key, func(rec crawler.DepsRecord) (int, error) { return 0, Decompress(rec) })
}

func apply(
	s *store.Store[crawler.DepsRecord],
	key store.BucketKey,
	fn func(crawler.DepsRecord) (int, error),
) (Stats, error) {
	var (
		stats Stats
		errs  []error
	)
	for _, name := range s.KeysInBucket(key) {
		rec, _ := s.Get(name)
		stats.Records++
		next := rec.Clone()
		refs, err := fn(next)
		if err != nil {
			errs = append(errs, fmt.Errorf("package %s: %w", name, err))
			continue
		}
		stats.References += refs
		if sameRecord(rec, next) {
			continue
		}
		if err := s.Set(name, next); err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Changed++
	}
	return stats, errors.Join(errs...)
}

func sameRecord(a, b crawler.DepsRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for pyver, versions := range a {
		if len(versions) != len(b[pyver]) {
			return false
		}
		for version, files := range versions {
			if len(files) != len(b[pyver][version]) {
				return false
			}
			for filename, entry := range files {
				other, ok := b[pyver][version][filename]
				if !ok || entry.Ref != other.Ref || !entry.Metadata.Equal(other.Metadata) {
					return false
				}
			}
		}
	}
	return true
}
