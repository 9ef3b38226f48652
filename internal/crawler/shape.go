package crawler

import "strings"

// ShapePackage reduces a registry document to the stored record: the
// preferred sdist and every wheel of each version. Versions left without
// any artifact are dropped, so an empty result means nothing worth storing.
// filesBase is trimmed from artifact URLs to keep the store compact.
func ShapePackage(doc PackageDocument, filesBase string) PackageRecord {
	prefix := strings.TrimSuffix(filesBase, "/") + "/"
	record := make(PackageRecord)
	for version, files := range doc.Releases {
		var (
			sdists  []ReleaseFile
			release ReleaseRecord
		)
		for _, f := range files {
			switch f.PackageType {
			case PackageTypeSdist:
				sdists = append(sdists, f)
			case PackageTypeWheel:
				if release.Wheels == nil {
					release.Wheels = make(map[string]WheelFile)
				}
				release.Wheels[f.Filename] = WheelFile{
					Sha256: f.Digests.Sha256,
					PyVer:  wheelPyVer(f),
				}
			}
		}
		if src, ok := SelectSourceArtifact(sdists); ok {
			release.Sdist = &SourceArtifact{
				Filename: src.Filename,
				Sha256:   src.Digests.Sha256,
				URL:      strings.TrimPrefix(src.URL, prefix),
			}
		}
		if release.Empty() {
			continue
		}
		record[version] = release
	}
	return record
}

// wheelPyVer falls back to the python tag of the wheel filename
// ({name}-{version}-{pytag}-...) when the registry omits python_version.
func wheelPyVer(f ReleaseFile) string {
	if f.PythonVersion != "" {
		return f.PythonVersion
	}
	parts := strings.Split(strings.TrimSuffix(f.Filename, ".whl"), "-")
	if len(parts) >= 5 {
		return parts[len(parts)-3]
	}
	return ""
}
