// Package cachedir resolves and prepares the per-workspace cache directory:
// a deterministic, platform-appropriate path that is created and scrubbed
// of stale files on every registration.
package cachedir

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/nbstore/blobcache/internal/fs"
	"github.com/nbstore/blobcache/internal/hash"
)

// RootName is the fixed directory name every strategy nests its
// per-workspace buckets under.
const RootName = "nbstore-blob-cache"

// Platform selects which ancestor-walk strategy Resolve uses. Go has no
// on-device build (the host calls into this module over FFI bindings
// generated elsewhere), so platform is a runtime value rather than a build
// tag. PlatformFallback is the zero value.
type Platform int

const (
	// PlatformFallback always uses the OS temp directory. It is the
	// default for tests and any host that isn't Android or iOS.
	PlatformFallback Platform = iota
	// PlatformAndroid walks up from database_path looking for a "files"
	// ancestor and nests the cache under "<app-root>/cache".
	PlatformAndroid
	// PlatformIOS walks up from database_path looking for a "Documents"
	// ancestor and nests the cache under "<container-root>/Library/Caches".
	PlatformIOS
)

// Resolver computes the cache directory root for a workspace given the
// store's database path, without touching the filesystem.
type Resolver interface {
	SystemCacheDir(databasePath, workspaceID string) string
}

// NewResolver returns the Resolver for the given platform, nesting every
// strategy's buckets under rootName. An empty rootName falls back to
// RootName.
func NewResolver(p Platform, rootName string) Resolver {
	if rootName == "" {
		rootName = RootName
	}

	switch p {
	case PlatformAndroid:
		return androidStrategy{rootName: rootName}
	case PlatformIOS:
		return iosStrategy{rootName: rootName}
	default:
		return fallbackStrategy{rootName: rootName}
	}
}

// WorkspaceBucket is the fixed 16-hex-character deterministic directory
// name a workspace ID maps to. The hash is unkeyed FNV-1a, so the name is
// also the same across process restarts; see internal/hash.
func WorkspaceBucket(workspaceID string) string {
	return hash.Hex16(workspaceID)
}

func fallbackDir(rootName, workspaceID string) string {
	return filepath.Join(os.TempDir(), rootName, WorkspaceBucket(workspaceID))
}

type fallbackStrategy struct{ rootName string }

func (s fallbackStrategy) SystemCacheDir(_, workspaceID string) string {
	return fallbackDir(s.rootName, workspaceID)
}

type androidStrategy struct{ rootName string }

func (s androidStrategy) SystemCacheDir(databasePath, workspaceID string) string {
	current := filepath.Dir(databasePath)

	for {
		if filepath.Base(current) == "files" {
			appRoot := filepath.Dir(current)
			if appRoot != current {
				return filepath.Join(appRoot, "cache", s.rootName, WorkspaceBucket(workspaceID))
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}

		current = parent
	}

	return fallbackDir(s.rootName, workspaceID)
}

type iosStrategy struct{ rootName string }

func (s iosStrategy) SystemCacheDir(databasePath, workspaceID string) string {
	current := filepath.Dir(databasePath)

	for {
		if filepath.Base(current) == "Documents" {
			containerRoot := filepath.Dir(current)
			if containerRoot != current {
				return filepath.Join(containerRoot, "Library", "Caches", s.rootName, WorkspaceBucket(workspaceID))
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}

		current = parent
	}

	return fallbackDir(s.rootName, workspaceID)
}

// Registry tracks the resolved cache directory for each registered
// workspace and performs the directory creation and stale-file scrub that
// registration requires. It does no LRU bookkeeping; see internal/index
// for that.
type Registry struct {
	resolver Resolver
	filesys  fs.FS

	mu   sync.RWMutex
	dirs map[string]string
}

// NewRegistry returns an empty Registry backed by the given resolver and
// filesystem.
func NewRegistry(resolver Resolver, filesys fs.FS) *Registry {
	return &Registry{
		resolver: resolver,
		filesys:  filesys,
		dirs:     make(map[string]string),
	}
}

// Register computes, creates, and scrubs the cache directory for
// workspaceID, then records the mapping. Registration is idempotent:
// repeat calls recompute and overwrite the mapping, and the directory is
// scrubbed again each time. On I/O error the registry is left unchanged
// so the caller may retry.
func (r *Registry) Register(workspaceID, databasePath string) (string, error) {
	dir := r.resolver.SystemCacheDir(databasePath, workspaceID)

	if err := r.filesys.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	if err := scrub(r.filesys, dir); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.dirs[workspaceID] = dir
	r.mu.Unlock()

	return dir, nil
}

// Lookup returns the registered cache directory for workspaceID, if any.
func (r *Registry) Lookup(workspaceID string) (string, bool) {
	r.mu.RLock()
	dir, ok := r.dirs[workspaceID]
	r.mu.RUnlock()

	return dir, ok
}

// Unregister drops the mapping and removes the directory tree, plus its
// immediate parent if that parent is now empty. Missing directories are
// not an error; a non-empty parent is left alone.
func (r *Registry) Unregister(workspaceID string) error {
	r.mu.Lock()
	dir, ok := r.dirs[workspaceID]
	delete(r.dirs, workspaceID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := r.filesys.RemoveAll(dir); err != nil {
		return err
	}

	_ = r.filesys.Remove(filepath.Dir(dir))

	return nil
}

// scrub deletes every regular file directly inside dir, leaving
// subdirectories untouched. A missing dir is treated as already clean.
func scrub(filesys fs.FS, dir string) error {
	entries, err := filesys.ReadDir(dir)
	if err != nil {
		if exists, existsErr := filesys.Exists(dir); existsErr == nil && !exists {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if err := filesys.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}
