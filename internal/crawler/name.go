package crawler

import "strings"

// NormalizeName returns the canonical form of a registry package name.
// Registry names are case-insensitive and treat "_" and "-" alike, so every
// lookup and every stored key goes through this function.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
}
