package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
)

// BucketKey identifies one of the sixteen shards, "0" through "f".
type BucketKey string

// BucketCount is the fixed number of shards. Changing it invalidates every
// store on disk.
const BucketCount = 16

var allKeys = func() []BucketKey {
	keys := make([]BucketKey, 0, BucketCount)
	for i := 0; i < BucketCount; i++ {
		keys = append(keys, BucketKey(fmt.Sprintf("%x", i)))
	}
	return keys
}()

// BucketOf returns the bucket a package name belongs to. The name is
// normalised first, so every spelling of a package lands in the same bucket.
func BucketOf(name string) BucketKey {
	sum := sha256.Sum256([]byte(crawler.NormalizeName(name)))
	return BucketKey(hex.EncodeToString(sum[:1])[:1])
}

// AllBucketKeys returns every bucket key in processing order.
func AllBucketKeys() []BucketKey {
	out := make([]BucketKey, len(allKeys))
	copy(out, allKeys)
	return out
}

// ParseBucketKey validates a user supplied bucket key.
func ParseBucketKey(s string) (BucketKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range allKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid bucket key %q: want one hex digit", s)
}

// KeysFrom returns the bucket keys starting at start, in processing order.
func KeysFrom(start BucketKey) []BucketKey {
	for i, k := range allKeys {
		if k == start {
			out := make([]BucketKey, len(allKeys)-i)
			copy(out, allKeys[i:])
			return out
		}
	}
	return nil
}
