// Package blobcache implements a mobile-side workspace blob cache: large
// blobs read from a workspace's document store are spilled to per-workspace
// cache files and handed back across the FFI boundary as file-path tokens
// instead of inline base64, while small blobs stay inline.
//
// The cache is never authoritative. Every entry is reconstructible from the
// underlying store; a cache miss, a stale index record, or a missing file
// is always recoverable by re-reading the store.
package blobcache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nbstore/blobcache/internal/blobtypes"
	"github.com/nbstore/blobcache/internal/cachedir"
	"github.com/nbstore/blobcache/internal/codec"
	"github.com/nbstore/blobcache/internal/fs"
	"github.com/nbstore/blobcache/internal/hash"
	"github.com/nbstore/blobcache/internal/index"
	"github.com/nbstore/blobcache/internal/poolexec"
	"github.com/nbstore/blobcache/internal/store"
	"github.com/nbstore/blobcache/internal/token"
)

// Options configures a Pool. The zero value is not usable; use NewPool.
type Options struct {
	// Store is the persistence collaborator. Required.
	Store store.Store
	// Platform selects the directory resolver strategy. Defaults to
	// cachedir.PlatformFallback.
	Platform cachedir.Platform
	// CacheRootName is the directory name every workspace's cache bucket is
	// nested under. Defaults to cachedir.RootName when empty.
	CacheRootName string
	// CacheCapacity bounds the process-wide entry index. Defaults to
	// index.Capacity (32) when zero.
	CacheCapacity int
	// SpillThresholdBytes is the minimum blob size that gets spilled to a
	// file instead of returned inline. Defaults to codec.SpillThresholdBytes
	// when zero.
	SpillThresholdBytes int
	// MaxReadBytes caps how large a file a token may resolve to. Defaults
	// to token.MaxReadBytes when zero.
	MaxReadBytes int64
	// PoolSize bounds the blocking-task goroutine pool. Defaults to
	// poolexec.DefaultPoolSize when zero.
	PoolSize int
	// Logger receives structured warnings for every swallowed,
	// best-effort failure. Defaults to a no-op logger.
	Logger *zap.Logger
	// Filesystem backs every file operation. Defaults to fs.NewReal().
	// Tests substitute fs.Chaos to exercise fallback paths.
	Filesystem fs.FS
	// Clock is kept on the Pool. Defaults to time.Now. Spilled cache
	// entries carry the store blob's CreatedAt, not a Clock reading.
	Clock func() time.Time
}

// Pool is the cache facade: every FFI-facing entry point the mobile host
// calls, each parameterized by workspace_id. Pool never performs
// filesystem I/O on the caller's goroutine; all blocking work is
// dispatched to a bounded goroutine pool.
type Pool struct {
	store    store.Store
	registry *cachedir.Registry
	index    *index.Index
	reader   *token.Reader
	filesys  fs.FS
	execPool *poolexec.Pool
	logger   *zap.Logger
	clock    func() time.Time

	spillThreshold int
	maxReadBytes   int64

	sf singleflight.Group
}

// NewPool constructs a Pool from opts. Callers must call Release when done
// to stop the internal goroutine pool.
func NewPool(opts Options) (*Pool, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("blobcache: Options.Store is required")
	}

	capacity := opts.CacheCapacity
	if capacity == 0 {
		capacity = index.Capacity
	}

	spillThreshold := opts.SpillThresholdBytes
	if spillThreshold == 0 {
		spillThreshold = codec.SpillThresholdBytes
	}

	maxReadBytes := opts.MaxReadBytes
	if maxReadBytes == 0 {
		maxReadBytes = token.MaxReadBytes
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	filesys := opts.Filesystem
	if filesys == nil {
		filesys = fs.NewReal()
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	idx, err := index.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("blobcache: %w", err)
	}

	execPool, err := poolexec.New(opts.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("blobcache: %w", err)
	}

	registry := cachedir.NewRegistry(cachedir.NewResolver(opts.Platform, opts.CacheRootName), filesys)

	p := &Pool{
		store:          opts.Store,
		registry:       registry,
		index:          idx,
		filesys:        filesys,
		execPool:       execPool,
		logger:         logger,
		clock:          clock,
		spillThreshold: spillThreshold,
		maxReadBytes:   maxReadBytes,
	}
	p.reader = token.NewReaderWithLimit(filesys, registry.Lookup, maxReadBytes)

	return p, nil
}

// Release stops the internal blocking-task pool. Call once, after every
// in-flight operation has returned.
func (p *Pool) Release() { p.execPool.Release() }

// Connect registers the workspace's cache directory, then opens the store.
// If the store fails to open, the registration is rolled back: entries are
// dropped and the directory tree removed.
func (p *Pool) Connect(ctx context.Context, workspaceID, databasePath string) error {
	_, err := poolexec.Submit(ctx, p.execPool, func() (struct{}, error) {
		return struct{}{}, p.connect(ctx, workspaceID, databasePath)
	})

	return err
}

func (p *Pool) connect(ctx context.Context, workspaceID, databasePath string) error {
	if _, err := p.registry.Register(workspaceID, databasePath); err != nil {
		return newErr(KindStoreError, "connect", err)
	}

	if err := p.store.Connect(ctx, workspaceID, databasePath); err != nil {
		p.invalidateWorkspace(workspaceID)

		return newErr(KindStoreError, "connect", err)
	}

	return nil
}

// Disconnect invalidates the workspace first (every cached entry is
// dropped, its backing files deleted, and the cache directory tree
// removed), then closes the store, so a reader racing the disconnect never
// observes a closed store with cache files still on disk.
func (p *Pool) Disconnect(ctx context.Context, workspaceID string) error {
	_, err := poolexec.Submit(ctx, p.execPool, func() (struct{}, error) {
		p.invalidateWorkspace(workspaceID)

		if storeErr := p.store.Disconnect(ctx, workspaceID); storeErr != nil {
			return struct{}{}, newErr(KindStoreError, "disconnect", storeErr)
		}

		return struct{}{}, nil
	})

	return err
}

// GetBlob returns the blob for key, spilling it to a cache file and
// returning a file-path token if it is large enough, or inlining it as
// base64 otherwise. It returns (nil, nil) if the store has no such blob.
func (p *Pool) GetBlob(ctx context.Context, workspaceID, key string) (*blobtypes.FfiBlob, error) {
	return poolexec.Submit(ctx, p.execPool, func() (*blobtypes.FfiBlob, error) {
		return p.getBlob(ctx, workspaceID, key)
	})
}

func (p *Pool) getBlob(ctx context.Context, workspaceID, key string) (*blobtypes.FfiBlob, error) {
	cacheKey := index.CacheKey(workspaceID, key)

	if entry, ok := p.index.Get(cacheKey); ok {
		if exists, _ := p.filesys.Exists(entry.AbsolutePath); exists {
			return entryToFfiBlob(entry), nil
		}

		if path, ok := p.index.Remove(cacheKey); ok {
			p.deleteBestEffort("get_blob: stale index entry", workspaceID, path)
		}
	}

	blob, err := p.store.GetBlob(ctx, workspaceID, key)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotConnected) {
		return nil, nil //nolint:nilnil // absence is a valid, non-error result
	}

	if err != nil {
		return nil, newErr(KindStoreError, "get_blob", err)
	}

	if len(blob.Data) < p.spillThreshold {
		return &blobtypes.FfiBlob{
			Key:         blob.Key,
			DataEncoded: codec.EncodeInline(blob.Data),
			Mime:        blob.Mime,
			Size:        blob.Size,
			CreatedAt:   blob.CreatedAt,
		}, nil
	}

	ffi, spillErr := p.spillToCache(workspaceID, cacheKey, blob)
	if spillErr != nil {
		p.logger.Warn("get_blob: spill failed, falling back to inline",
			zap.String("workspace_id", workspaceID), zap.String("key", key), zap.Error(spillErr))

		return &blobtypes.FfiBlob{
			Key:         blob.Key,
			DataEncoded: codec.EncodeInline(blob.Data),
			Mime:        blob.Mime,
			Size:        blob.Size,
			CreatedAt:   blob.CreatedAt,
		}, nil
	}

	return ffi, nil
}

func (p *Pool) spillToCache(workspaceID, cacheKey string, blob blobtypes.Blob) (*blobtypes.FfiBlob, error) {
	result, err, _ := p.sf.Do(cacheKey, func() (any, error) {
		dir, ok := p.registry.Lookup(workspaceID)
		if !ok {
			return nil, fmt.Errorf("workspace %q is not registered", workspaceID)
		}

		path := filepath.Join(dir, hashedBlobFilename(cacheKey))

		if err := p.filesys.WriteFileAtomic(path, blob.Data); err != nil {
			return nil, err
		}

		entry := blobtypes.CacheEntry{
			BlobKey:         blob.Key,
			AbsolutePath:    path,
			Mime:            blob.Mime,
			SizeBytes:       blob.Size,
			CreatedAtMillis: blob.CreatedAt,
		}

		for _, stale := range p.index.Put(cacheKey, entry) {
			p.deleteBestEffort("get_blob: replaced cache entry", workspaceID, stale)
		}

		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	entry, _ := result.(blobtypes.CacheEntry)

	return entryToFfiBlob(entry), nil
}

// SetBlob decodes set's payload (inline base64 or a file-path token),
// forwards the decoded bytes to the store, then invalidates any cached
// entry for the same key (best-effort).
func (p *Pool) SetBlob(ctx context.Context, workspaceID string, set blobtypes.FfiSetBlob) error {
	_, err := poolexec.Submit(ctx, p.execPool, func() (struct{}, error) {
		return struct{}{}, p.setBlob(ctx, workspaceID, set)
	})

	return err
}

func (p *Pool) setBlob(ctx context.Context, workspaceID string, set blobtypes.FfiSetBlob) error {
	var (
		data []byte
		err  error
	)

	if codec.IsFileToken(set.DataEncoded) {
		data, err = p.reader.Read(workspaceID, set.DataEncoded)
		if err != nil {
			return translateTokenErr("set_blob", err)
		}
	} else {
		data, err = codec.DecodeInline(set.DataEncoded)
		if err != nil {
			return newErr(KindBase64Decode, "set_blob", err)
		}
	}

	if err := p.store.SetBlob(ctx, workspaceID, blobtypes.SetBlob{Key: set.Key, Data: data, Mime: set.Mime}); err != nil {
		return newErr(KindStoreError, "set_blob", err)
	}

	if path, ok := p.index.Remove(index.CacheKey(workspaceID, set.Key)); ok {
		p.deleteBestEffort("set_blob: invalidate", workspaceID, path)
	}

	return nil
}

// DeleteBlob forwards to the store, then invalidates the cache entry for
// key (best-effort).
func (p *Pool) DeleteBlob(ctx context.Context, workspaceID, key string, permanently bool) error {
	_, err := poolexec.Submit(ctx, p.execPool, func() (struct{}, error) {
		if err := p.store.DeleteBlob(ctx, workspaceID, key, permanently); err != nil {
			return struct{}{}, newErr(KindStoreError, "delete_blob", err)
		}

		if path, ok := p.index.Remove(index.CacheKey(workspaceID, key)); ok {
			p.deleteBestEffort("delete_blob: invalidate", workspaceID, path)
		}

		return struct{}{}, nil
	})

	return err
}

// ReleaseBlobs forwards to the store, then clears every cached entry for
// workspaceID and purges the cache directory's regular files. The
// directory itself is kept, since the workspace is still mounted.
func (p *Pool) ReleaseBlobs(ctx context.Context, workspaceID string) error {
	_, err := poolexec.Submit(ctx, p.execPool, func() (struct{}, error) {
		if err := p.store.ReleaseBlobs(ctx, workspaceID); err != nil {
			return struct{}{}, newErr(KindStoreError, "release_blobs", err)
		}

		p.evictWorkspaceEntries(workspaceID)

		return struct{}{}, nil
	})

	return err
}

// ListBlobs returns a summary of every blob stored for workspaceID.
func (p *Pool) ListBlobs(ctx context.Context, workspaceID string) ([]blobtypes.ListedBlob, error) {
	return poolexec.Submit(ctx, p.execPool, func() ([]blobtypes.ListedBlob, error) {
		listed, err := p.store.ListBlobs(ctx, workspaceID)
		if err != nil {
			return nil, newErr(KindStoreError, "list_blobs", err)
		}

		return listed, nil
	})
}

// SetSpaceID records the logical space workspaceID's blobs belong to. A
// thin pass-through with no cache interaction.
func (p *Pool) SetSpaceID(ctx context.Context, workspaceID, spaceID string) error {
	_, err := poolexec.Submit(ctx, p.execPool, func() (struct{}, error) {
		if err := p.store.SetSpaceID(ctx, workspaceID, spaceID); err != nil {
			return struct{}{}, newErr(KindStoreError, "set_space_id", err)
		}

		return struct{}{}, nil
	})

	return err
}

// PushUpdate forwards a raw CRDT update to the store. A thin pass-through
// with no cache interaction.
func (p *Pool) PushUpdate(ctx context.Context, workspaceID string, update []byte) error {
	_, err := poolexec.Submit(ctx, p.execPool, func() (struct{}, error) {
		if err := p.store.PushUpdate(ctx, workspaceID, update); err != nil {
			return struct{}{}, newErr(KindStoreError, "push_update", err)
		}

		return struct{}{}, nil
	})

	return err
}

// invalidateWorkspace drops every cached entry for workspaceID and removes
// its cache directory tree. Used both by Disconnect and by Connect's
// rollback path.
func (p *Pool) invalidateWorkspace(workspaceID string) {
	p.evictWorkspaceEntries(workspaceID)

	if err := p.registry.Unregister(workspaceID); err != nil {
		p.logger.Warn("invalidate_workspace: remove cache dir failed",
			zap.String("workspace_id", workspaceID), zap.Error(err))
	}
}

func (p *Pool) evictWorkspaceEntries(workspaceID string) {
	for _, path := range p.index.RemovePrefix(workspaceID + index.WorkspaceDelimiter) {
		p.deleteBestEffort("evict_workspace_entries", workspaceID, path)
	}

	dir, ok := p.registry.Lookup(workspaceID)
	if !ok {
		return
	}

	entries, err := p.filesys.ReadDir(dir)
	if err != nil {
		return
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		p.deleteBestEffort("evict_workspace_entries: scrub", workspaceID, filepath.Join(dir, e.Name()))
	}
}

func (p *Pool) deleteBestEffort(op, workspaceID, path string) {
	if err := p.filesys.Remove(path); err != nil {
		p.logger.Warn(op, zap.String("workspace_id", workspaceID), zap.String("path", path), zap.Error(err))
	}
}

func hashedBlobFilename(cacheKey string) string {
	return hash.Hex16(cacheKey) + ".blob"
}

func entryToFfiBlob(entry blobtypes.CacheEntry) *blobtypes.FfiBlob {
	return &blobtypes.FfiBlob{
		Key:         entry.BlobKey,
		DataEncoded: codec.EncodeFileToken(entry.AbsolutePath),
		Mime:        entry.Mime,
		Size:        entry.SizeBytes,
		CreatedAt:   entry.CreatedAtMillis,
	}
}

func translateTokenErr(op string, err error) error {
	var tokErr *token.Error
	if !errors.As(err, &tokErr) {
		return newErr(KindStoreError, op, err)
	}

	switch tokErr.Kind {
	case token.KindInvalidInput:
		return newErr(KindInvalidInput, op, tokErr)
	case token.KindNotFound:
		return newErr(KindNotFound, op, tokErr)
	case token.KindPermissionDenied:
		return newErr(KindPermissionDenied, op, tokErr)
	case token.KindInvalidData:
		return newErr(KindInvalidData, op, tokErr)
	default:
		return newErr(KindStoreError, op, tokErr)
	}
}
