package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// SourceArtifact is the preferred source distribution of a release.
type SourceArtifact struct {
	Filename string `json:"filename"`
	Sha256   string `json:"sha256"`
	// URL is the download path relative to the registry's files host.
	URL string `json:"url,omitempty"`
}

// WheelFile describes one built distribution listed for a release.
type WheelFile struct {
	Sha256 string `json:"sha256"`
	// PyVer is the distribution tag used as the first path segment of the
	// artifact URL (e.g. "py3", "cp311").
	PyVer string `json:"pyver"`
}

// ReleaseRecord holds the artifacts harvested for one version. A record with
// neither field set is never stored.
type ReleaseRecord struct {
	Sdist  *SourceArtifact      `json:"sdist,omitempty"`
	Wheels map[string]WheelFile `json:"wheels,omitempty"`
}

// Empty reports whether the release carries no artifact at all.
func (r ReleaseRecord) Empty() bool {
	return r.Sdist == nil && len(r.Wheels) == 0
}

// PackageRecord maps release versions to their records. It is replaced
// wholesale whenever the package is re-harvested.
type PackageRecord map[string]ReleaseRecord

// WheelMetadata is the dependency metadata declared inside a wheel.
// Absent fields stay nil and are omitted on disk.
type WheelMetadata struct {
	RequiresDist     []string `json:"requires_dist,omitempty"`
	ProvidesExtras   []string `json:"provides_extras,omitempty"`
	RequiresExternal []string `json:"requires_external,omitempty"`
}

// Equal compares two documents structurally. A nil field equals an empty one.
func (m WheelMetadata) Equal(other WheelMetadata) bool {
	return slices.Equal(m.RequiresDist, other.RequiresDist) &&
		slices.Equal(m.ProvidesExtras, other.ProvidesExtras) &&
		slices.Equal(m.RequiresExternal, other.RequiresExternal)
}

// Clone returns a deep copy.
func (m WheelMetadata) Clone() WheelMetadata {
	return WheelMetadata{
		RequiresDist:     slices.Clone(m.RequiresDist),
		ProvidesExtras:   slices.Clone(m.ProvidesExtras),
		RequiresExternal: slices.Clone(m.RequiresExternal),
	}
}

// WheelEntry is either an inline metadata document or a canonical reference
// ("{version}@{filename}") to an inline entry with identical content in the
// same package and pyver group.
type WheelEntry struct {
	Metadata WheelMetadata
	Ref      string
}

// InlineEntry wraps a metadata document.
func InlineEntry(m WheelMetadata) WheelEntry {
	return WheelEntry{Metadata: m}
}

// RefEntry builds a canonical reference to version/filename.
func RefEntry(version, filename string) WheelEntry {
	return WheelEntry{Ref: version + "@" + filename}
}

// IsRef reports whether the entry is a canonical reference.
func (e WheelEntry) IsRef() bool {
	return e.Ref != ""
}

// Target splits a reference into the version and filename it points at.
func (e WheelEntry) Target() (version, filename string, ok bool) {
	if !e.IsRef() {
		return "", "", false
	}
	return strings.Cut(e.Ref, "@")
}

// MarshalJSON encodes references as strings and inline entries as objects.
func (e WheelEntry) MarshalJSON() ([]byte, error) {
	if e.IsRef() {
		return json.Marshal(e.Ref)
	}
	return json.Marshal(e.Metadata)
}

// UnmarshalJSON accepts either representation.
func (e *WheelEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var ref string
		if err := json.Unmarshal(data, &ref); err != nil {
			return fmt.Errorf("decode wheel reference: %w", err)
		}
		*e = WheelEntry{Ref: ref}
		return nil
	}
	var m WheelMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode wheel metadata: %w", err)
	}
	*e = WheelEntry{Metadata: m}
	return nil
}

// DepsRecord is the dependency store record of one package:
// pyver -> version -> wheel filename -> entry.
type DepsRecord map[string]map[string]map[string]WheelEntry

// Has reports whether a result is already on file for the key.
func (d DepsRecord) Has(pyver, version, filename string) bool {
	_, ok := d[pyver][version][filename]
	return ok
}

// Put stores an entry, creating intermediate maps.
func (d DepsRecord) Put(pyver, version, filename string, entry WheelEntry) {
	versions, ok := d[pyver]
	if !ok {
		versions = make(map[string]map[string]WheelEntry)
		d[pyver] = versions
	}
	files, ok := versions[version]
	if !ok {
		files = make(map[string]WheelEntry)
		versions[version] = files
	}
	files[filename] = entry
}

// Clone returns a deep copy of the record.
func (d DepsRecord) Clone() DepsRecord {
	out := make(DepsRecord, len(d))
	for pyver, versions := range d {
		for version, files := range versions {
			for filename, entry := range files {
				out.Put(pyver, version, filename, WheelEntry{Metadata: entry.Metadata.Clone(), Ref: entry.Ref})
			}
		}
	}
	return out
}
