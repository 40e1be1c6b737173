package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/semaphore"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/bfio/bio"
)

// DefaultConcurrency is the number of blob operations a store runs at once unless
// configured otherwise.
const DefaultConcurrency = 16

// Config tunes a blob store.
type Config struct {
	// Create makes a missing local directory instead of failing.
	Create bool

	// Concurrency bounds the number of simultaneous blob operations.
	Concurrency int
}

// In-memory buckets are shared by name so that a writer and a later reader within
// the same process see the same contents.
var (
	memBuckets   = make(map[string]*blob.Bucket)
	memBucketsMu sync.Mutex
)

func memBucket(name string) *blob.Bucket {
	memBucketsMu.Lock()
	defer memBucketsMu.Unlock()
	b, found := memBuckets[name]
	if !found {
		b = memblob.OpenBucket(nil)
		memBuckets[name] = b
	}
	return b
}

// DropMemory releases the in-memory bucket with the given "mem://" location.
func DropMemory(location string) {
	name := strings.TrimPrefix(location, "mem://")
	memBucketsMu.Lock()
	b, found := memBuckets[name]
	delete(memBuckets, name)
	memBucketsMu.Unlock()
	if found {
		b.Close()
	}
}

// IsMemory returns true if location names an in-memory bucket.
func IsMemory(location string) bool {
	return strings.HasPrefix(location, "mem://")
}

// IsRemote returns true if location uses a cloud bucket scheme.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Scheme == "gs" || u.Scheme == "s3"
}

// LocalPath returns the filesystem path of a local location, stripping any "file://".
func LocalPath(location string) (string, bool) {
	if IsMemory(location) || IsRemote(location) {
		return "", false
	}
	return strings.TrimPrefix(location, "file://"), true
}

// Split divides a location naming a single object into the location of its enclosing
// bucket or directory and the object key.
func Split(location string) (dir, key string) {
	if path, local := LocalPath(location); local {
		return filepath.Dir(path), filepath.Base(path)
	}
	i := strings.LastIndex(location, "/")
	if i < 0 || strings.HasSuffix(location[:i+1], "://") {
		return location, ""
	}
	return location[:i], location[i+1:]
}

// BlobStore is a Store over a gocloud.dev blob bucket.
type BlobStore struct {
	location string
	bucket   *blob.Bucket
	prefix   string
	owned    bool

	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Open returns a blob store for a local directory, "file://" path, "mem://name",
// "gs://bucket/prefix" or "s3://bucket/prefix" location.
func Open(ctx context.Context, location string, config Config) (*BlobStore, error) {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	store := &BlobStore{
		location: location,
		sem:      semaphore.NewWeighted(int64(config.Concurrency)),
	}
	switch {
	case IsMemory(location):
		store.bucket = memBucket(strings.TrimPrefix(location, "mem://"))
	case IsRemote(location):
		u, err := url.Parse(location)
		if err != nil {
			return nil, bio.WrapError(err, bio.CodeInvalidInput, "bad store location %q", location)
		}
		bucketURL := *u
		bucketURL.Path = ""
		bucket, err := blob.OpenBucket(ctx, bucketURL.String())
		if err != nil {
			return nil, bio.StoreError(err, "opening bucket %q", bucketURL.String())
		}
		store.bucket = bucket
		store.owned = true
		if p := strings.Trim(u.Path, "/"); p != "" {
			store.prefix = p + "/"
		}
	default:
		dir, _ := LocalPath(location)
		if fi, err := os.Stat(dir); err != nil {
			if !os.IsNotExist(err) || !config.Create {
				return nil, bio.StoreError(err, "opening directory %q", dir)
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, bio.StoreError(err, "creating directory %q", dir)
			}
		} else if !fi.IsDir() {
			return nil, bio.NewError(bio.CodeStoreIO, "%q is not a directory", dir)
		}
		bucket, err := fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, bio.StoreError(err, "opening directory %q", dir)
		}
		store.bucket = bucket
		store.owned = true
	}
	store.ctx, store.cancel = context.WithCancel(context.Background())
	bio.Debugf("Opened blob store %s\n", store)
	return store, nil
}

func isNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

// begin registers an operation so Close waits for it.  Callers must call s.wg.Done
// when begin succeeds.
func (s *BlobStore) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return bio.NewError(bio.CodeClosed, "%s is closed", s)
	}
	s.wg.Add(1)
	return nil
}

// run executes op asynchronously under the store's concurrency limit.
func (s *BlobStore) run(ctx context.Context, op func(ctx context.Context) ([]byte, error)) *Future {
	if err := s.begin(); err != nil {
		return Resolved(nil, err)
	}
	f := newFuture()
	go func() {
		defer s.wg.Done()
		ctx, cancel := mergeCancel(ctx, s.ctx)
		defer cancel()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			f.resolve(nil, bio.StoreError(err, "waiting on store %s", s))
			return
		}
		defer s.sem.Release(1)
		f.resolve(op(ctx))
	}()
	return f
}

// mergeCancel returns a context derived from ctx that is also cancelled when the
// store's own context is cancelled.
func mergeCancel(ctx, storeCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(storeCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Get implements Store.
func (s *BlobStore) Get(ctx context.Context, key string) *Future {
	return s.GetRange(ctx, key, 0, -1)
}

// GetRange implements Store.  A negative length reads to the end of the value.
func (s *BlobStore) GetRange(ctx context.Context, key string, offset, length int64) *Future {
	return s.run(ctx, func(ctx context.Context) ([]byte, error) {
		return s.rangeRead(ctx, key, offset, length)
	})
}

// returns nil/nil if key does not exist.
func (s *BlobStore) rangeRead(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r, err := s.bucket.NewRangeReader(ctx, s.prefix+key, offset, length, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, bio.StoreError(err, "reading %q from %s", key, s)
	}
	defer r.Close()
	size := length
	if size < 0 {
		size = r.Size() - offset
	}
	if size < 0 {
		size = 0
	}
	buf := make([]byte, 0, size)
	w := &sliceWriter{buf}
	if _, err := io.Copy(w, r); err != nil {
		return nil, bio.StoreError(err, "reading %q from %s", key, s)
	}
	return w.buf, nil
}

type sliceWriter struct {
	buf []byte
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Put implements Store.  The blob writer only commits the value on a successful close.
func (s *BlobStore) Put(ctx context.Context, key string, value []byte) *Future {
	return s.run(ctx, func(ctx context.Context) ([]byte, error) {
		opts := &blob.WriterOptions{ContentType: "application/octet-stream"}
		if err := s.bucket.WriteAll(ctx, s.prefix+key, value, opts); err != nil {
			return nil, bio.StoreError(err, "writing %q (%s) to %s", key,
				humanize.Bytes(uint64(len(value))), s)
		}
		return nil, nil
	})
}

// Delete implements Store.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.wg.Done()
	if err := s.bucket.Delete(ctx, s.prefix+key); err != nil && !isNotFound(err) {
		return bio.StoreError(err, "deleting %q from %s", key, s)
	}
	return nil
}

// Exists implements Store.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.begin(); err != nil {
		return false, err
	}
	defer s.wg.Done()
	found, err := s.bucket.Exists(ctx, s.prefix+key)
	if err != nil {
		return false, bio.StoreError(err, "checking %q in %s", key, s)
	}
	return found, nil
}

// Size implements Store.
func (s *BlobStore) Size(ctx context.Context, key string) (int64, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	defer s.wg.Done()
	attrs, err := s.bucket.Attributes(ctx, s.prefix+key)
	if err != nil {
		return 0, bio.StoreError(err, "getting attributes of %q in %s", key, s)
	}
	return attrs.Size, nil
}

// Keys implements Store.
func (s *BlobStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.wg.Done()
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix + prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, bio.StoreError(err, "listing %q in %s", prefix, s)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store.  Outstanding operations are cancelled and drained; a cancelled
// Put never leaves a partial value.  Operations issued after Close fail with CodeClosed.
// In-memory buckets stay available for later opens until DropMemory is called.
func (s *BlobStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	if !s.owned {
		return nil
	}
	if err := s.bucket.Close(); err != nil {
		return bio.StoreError(err, "closing %s", s)
	}
	return nil
}

func (s *BlobStore) String() string {
	return fmt.Sprintf("blob store @ %s", s.location)
}
