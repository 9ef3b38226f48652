// Package store implements the bucketed persistent key-value store that
// backs both the package index and the wheel dependency records.
//
// Keys are normalised package names. Each key hashes to one of sixteen
// buckets (the first hex digit of the SHA-256 of the name); a bucket is
// loaded lazily on first access, mutated in memory and written back
// atomically as a single file. Buckets never reference each other, so
// independent processes can share a directory by restricting themselves to
// disjoint buckets.
//
// A Store is not safe for concurrent use. Callers fold results on one
// goroutine.
package store
