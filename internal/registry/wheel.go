package registry

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"slices"
	"strings"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
)

// maxMetadataSize caps how much of a METADATA entry is read.
const maxMetadataSize = 32 << 20

// ExtractWheelMetadata reads the dependency metadata out of a wheel archive.
// Among the entries whose path mentions METADATA, the least nested one whose
// content declares a Metadata-Version wins.
func ExtractWheelMetadata(r io.ReaderAt, size int64) (crawler.WheelMetadata, error) {
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return crawler.WheelMetadata{}, fmt.Errorf("open wheel: %v: %w", err, crawler.ErrMalformed)
	}

	var candidates []*zip.File
	for _, f := range archive.File {
		if strings.Contains(f.Name, "METADATA") {
			candidates = append(candidates, f)
		}
	}
	slices.SortFunc(candidates, func(a, b *zip.File) int {
		da, db := strings.Count(a.Name, "/"), strings.Count(b.Name, "/")
		if da != db {
			return da - db
		}
		return strings.Compare(a.Name, b.Name)
	})

	for _, f := range candidates {
		data, err := readEntry(f)
		if err != nil {
			return crawler.WheelMetadata{}, fmt.Errorf("read %s: %v: %w", f.Name, err, crawler.ErrMalformed)
		}
		if !bytes.Contains(data, []byte("Metadata-Version")) {
			continue
		}
		return parseMetadata(data), nil
	}
	return crawler.WheelMetadata{}, fmt.Errorf("no METADATA entry: %w", crawler.ErrMalformed)
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxMetadataSize))
}

// parseMetadata reads the RFC 822 header block of a METADATA file the
// lenient way Python's email parser does: header values may hold any byte,
// lines starting with a space or tab continue the previous header, and the
// first blank line or line that is not "Name: value" starts the body. Headers
// read before that point are kept. The body (the long description) is
// ignored.
func parseMetadata(data []byte) crawler.WheelMetadata {
	header := make(textproto.MIMEHeader)
	var (
		key   string
		value strings.Builder
	)
	flush := func() {
		if key != "" {
			header.Add(key, strings.TrimSpace(value.String()))
		}
		key = ""
		value.Reset()
	}
	for line := range strings.Lines(string(data)) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if key != "" {
				value.WriteByte(' ')
				value.WriteString(strings.TrimSpace(line))
			}
			continue
		}
		name, v, ok := strings.Cut(line, ":")
		if !ok || !validFieldName(name) {
			break
		}
		flush()
		key = textproto.CanonicalMIMEHeaderKey(name)
		value.WriteString(v)
	}
	flush()
	return crawler.WheelMetadata{
		RequiresDist:     header.Values("Requires-Dist"),
		ProvidesExtras:   header.Values("Provides-Extra"),
		RequiresExternal: header.Values("Requires-External"),
	}
}

// validFieldName reports whether name is a header field name: printable
// ASCII without spaces or colons.
func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < '!' || c > '~' || c == ':' {
			return false
		}
	}
	return true
}
