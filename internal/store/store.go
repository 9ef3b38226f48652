package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/crawler"
)

var (
	// ErrOutsideBucket is returned when a restricted store is asked to
	// mutate a key of another bucket.
	ErrOutsideBucket = errors.New("key outside restricted bucket")
	// ErrDirtyBucket is returned when unloading a bucket with unsaved changes.
	ErrDirtyBucket = errors.New("bucket has unsaved changes")
)

// Option configures a Store.
type Option func(*options)

type options struct {
	codec  Codec
	logger *zap.Logger
	only   BucketKey
}

// WithBucket restricts the store to a single bucket. Only that bucket's
// file is ever read or written.
func WithBucket(key BucketKey) Option {
	return func(o *options) { o.only = key }
}

// WithCodec selects the on-disk encoding. JSONCodec is the default.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets the logger used for load and save diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type bucket[T any] struct {
	records map[string]T
	dirty   bool
}

// Store is a bucketed key-value store of records of type T keyed by
// normalised package name.
type Store[T any] struct {
	dir     string
	codec   Codec
	logger  *zap.Logger
	only    BucketKey
	buckets map[BucketKey]*bucket[T]
}

// Open prepares a store rooted at dir, creating the directory if needed.
// No bucket is read until it is first accessed.
func Open[T any](dir string, opts ...Option) (*Store[T], error) {
	o := options{codec: JSONCodec{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.only != "" {
		if _, err := ParseBucketKey(string(o.only)); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	return &Store[T]{
		dir:     dir,
		codec:   o.codec,
		logger:  o.logger.With(zap.String("store", dir)),
		only:    o.only,
		buckets: make(map[BucketKey]*bucket[T]),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store[T]) Dir() string { return s.dir }

// Restricted returns the bucket the store is limited to, if any.
func (s *Store[T]) Restricted() (BucketKey, bool) {
	return s.only, s.only != ""
}

// Path returns the file a bucket is persisted to.
func (s *Store[T]) Path(key BucketKey) string {
	return filepath.Join(s.dir, string(key)+s.codec.Extension())
}

func (s *Store[T]) allowed(key BucketKey) bool {
	return s.only == "" || s.only == key
}

// Get returns the record stored for name, loading its bucket on demand.
func (s *Store[T]) Get(name string) (T, bool) {
	var zero T
	name = crawler.NormalizeName(name)
	key := BucketOf(name)
	if !s.allowed(key) {
		return zero, false
	}
	rec, ok := s.load(key).records[name]
	return rec, ok
}

// Set replaces the record for name in memory and marks its bucket dirty.
func (s *Store[T]) Set(name string, rec T) error {
	name = crawler.NormalizeName(name)
	key := BucketOf(name)
	if !s.allowed(key) {
		return fmt.Errorf("set %s in bucket %s: %w", name, key, ErrOutsideBucket)
	}
	b := s.load(key)
	b.records[name] = rec
	b.dirty = true
	return nil
}

// Delete removes the record for name.
func (s *Store[T]) Delete(name string) error {
	name = crawler.NormalizeName(name)
	key := BucketOf(name)
	if !s.allowed(key) {
		return fmt.Errorf("delete %s in bucket %s: %w", name, key, ErrOutsideBucket)
	}
	b := s.load(key)
	if _, ok := b.records[name]; ok {
		delete(b.records, name)
		b.dirty = true
	}
	return nil
}

// KeysInBucket returns the sorted names stored in a bucket.
func (s *Store[T]) KeysInBucket(key BucketKey) []string {
	if !s.allowed(key) {
		return nil
	}
	b := s.load(key)
	names := make([]string, 0, len(b.records))
	for name := range b.records {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of records in a bucket.
func (s *Store[T]) Len(key BucketKey) int {
	if !s.allowed(key) {
		return 0
	}
	return len(s.load(key).records)
}

// Loaded returns the keys of the buckets currently held in memory.
func (s *Store[T]) Loaded() []BucketKey {
	keys := make([]BucketKey, 0, len(s.buckets))
	for k := range s.buckets {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Dirty reports whether a bucket holds unsaved changes.
func (s *Store[T]) Dirty(key BucketKey) bool {
	b, ok := s.buckets[key]
	return ok && b.dirty
}

// Save persists every dirty bucket. Clean and untouched buckets are left
// alone on disk.
func (s *Store[T]) Save() error {
	var errs []error
	for _, key := range s.Loaded() {
		if _, err := s.SaveBucket(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveBucket persists one bucket if it is dirty and reports whether a file
// was written.
func (s *Store[T]) SaveBucket(key BucketKey) (bool, error) {
	b, ok := s.buckets[key]
	if !ok || !b.dirty {
		return false, nil
	}
	if err := s.writeAtomic(key, b.records); err != nil {
		return false, err
	}
	b.dirty = false
	s.logger.Debug("bucket saved", zap.String("bucket", string(key)), zap.Int("records", len(b.records)))
	return true, nil
}

// Unload drops a clean bucket from memory. The next access reloads it.
func (s *Store[T]) Unload(key BucketKey) error {
	b, ok := s.buckets[key]
	if !ok {
		return nil
	}
	if b.dirty {
		return fmt.Errorf("unload bucket %s: %w", key, ErrDirtyBucket)
	}
	delete(s.buckets, key)
	return nil
}

func (s *Store[T]) load(key BucketKey) *bucket[T] {
	if b, ok := s.buckets[key]; ok {
		return b
	}
	b := &bucket[T]{records: make(map[string]T)}
	s.buckets[key] = b

	path := s.Path(key)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("bucket unreadable, starting empty", zap.String("bucket", string(key)), zap.Error(err))
		}
		return b
	}
	defer f.Close()

	records := make(map[string]T)
	if err := s.codec.Decode(f, &records); err != nil {
		s.logger.Warn("bucket corrupt, starting empty", zap.String("bucket", string(key)), zap.Error(err))
		return b
	}
	if records == nil {
		// A literal null decodes without error into a nil map.
		s.logger.Warn("bucket file holds null, starting empty", zap.String("bucket", string(key)))
		return b
	}
	b.records = records
	s.logger.Debug("bucket loaded", zap.String("bucket", string(key)), zap.Int("records", len(records)))
	return b
}

func (s *Store[T]) writeAtomic(key BucketKey, records map[string]T) (err error) {
	tmp, err := os.CreateTemp(s.dir, "."+string(key)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for bucket %s: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = s.codec.Encode(tmp, records); err != nil {
		return fmt.Errorf("encode bucket %s: %w", key, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync bucket %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close bucket %s: %w", key, err)
	}
	if err = os.Rename(tmp.Name(), s.Path(key)); err != nil {
		return fmt.Errorf("rename bucket %s: %w", key, err)
	}
	syncDir(s.dir)
	return nil
}

// syncDir flushes the rename to the directory entry where the platform
// allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
