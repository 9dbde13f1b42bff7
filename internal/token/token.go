// Package token resolves an FFI file-path token back into blob bytes,
// enforcing that the resolved path is contained within the workspace's
// registered cache directory and has the exact shape a cache file may
// have.
package token

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/nbstore/blobcache/internal/codec"
	"github.com/nbstore/blobcache/internal/fs"
)

// MaxReadBytes is the hard cap on the size of a file a token may resolve
// to. Anything larger fails rather than being read into memory.
const MaxReadBytes = 64 * 1024 * 1024 // 64 MiB

// filenamePattern matches the only shape a cache file's relative path may
// take: exactly one component, 16 lowercase hex characters, ".blob".
var filenamePattern = regexp.MustCompile(`^[0-9a-f]{16}\.blob$`)

// Kind classifies a Reader failure the way the facade needs to translate
// it into an FFI error code.
type Kind int

const (
	// KindInvalidInput covers a malformed token: no sentinel prefix, or
	// a resolved file that is not a regular file.
	KindInvalidInput Kind = iota
	// KindNotFound covers an unregistered workspace or a path that does
	// not resolve (ENOENT and similar).
	KindNotFound
	// KindPermissionDenied covers every containment or shape violation,
	// and filesystem permission errors.
	KindPermissionDenied
	// KindInvalidData covers a file that resolves and exists but is too
	// large to read.
	KindInvalidData
)

// Error is returned by Reader.Read.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// CacheDirLookup resolves a workspace ID to its registered, already-created
// cache directory. cachedir.Registry.Lookup satisfies this.
type CacheDirLookup func(workspaceID string) (dir string, ok bool)

// Reader resolves file-path tokens to bytes.
type Reader struct {
	filesys      fs.FS
	lookup       CacheDirLookup
	maxReadBytes int64
}

// NewReader returns a Reader that reads through filesys and resolves
// workspace cache directories via lookup, capping reads at MaxReadBytes.
func NewReader(filesys fs.FS, lookup CacheDirLookup) *Reader {
	return &Reader{filesys: filesys, lookup: lookup, maxReadBytes: MaxReadBytes}
}

// NewReaderWithLimit is like NewReader but caps reads at maxReadBytes
// instead of the package default.
func NewReaderWithLimit(filesys fs.FS, lookup CacheDirLookup, maxReadBytes int64) *Reader {
	return &Reader{filesys: filesys, lookup: lookup, maxReadBytes: maxReadBytes}
}

// Read resolves token for workspaceID and returns the bytes it points to.
// token must carry the sentinel prefix; see codec.IsFileToken.
func (r *Reader) Read(workspaceID, token string) ([]byte, error) {
	path, err := r.Resolve(workspaceID, token)
	if err != nil {
		return nil, err
	}

	info, err := r.filesys.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, newErr(KindPermissionDenied, "token: stat %s: %v", path, err)
		}

		return nil, newErr(KindNotFound, "token: stat %s: %v", path, err)
	}

	if !info.Mode().IsRegular() {
		return nil, newErr(KindInvalidInput, "token: %s is not a regular file", path)
	}

	if info.Size() > r.maxReadBytes {
		return nil, newErr(KindInvalidData, "token: %s exceeds read cap of %d bytes", path, r.maxReadBytes)
	}

	data, err := r.filesys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, newErr(KindPermissionDenied, "token: read %s: %v", path, err)
		}

		return nil, newErr(KindNotFound, "token: read %s: %v", path, err)
	}

	return data, nil
}

// Resolve performs every containment and shape check without reading the
// file, returning the canonical, verified path. It is split out from Read
// so callers that only need to validate a token (e.g. before deleting it)
// do not pay for a read.
func (r *Reader) Resolve(workspaceID, token string) (string, error) {
	rawPath, ok := codec.StripFileToken(token)
	if !ok {
		return "", newErr(KindInvalidInput, "token: missing sentinel prefix")
	}

	canonicalPath, err := r.filesys.Canonicalize(rawPath)
	if err != nil {
		return "", translateCanonicalizeErr(err)
	}

	cacheDir, ok := r.lookup(workspaceID)
	if !ok {
		return "", newErr(KindNotFound, "token: workspace %q is not registered", workspaceID)
	}

	canonicalDir, err := r.filesys.Canonicalize(cacheDir)
	if err != nil {
		return "", newErr(KindNotFound, "token: cache directory %s: %v", cacheDir, err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil {
		return "", newErr(KindPermissionDenied, "token: path escapes cache directory")
	}

	if !filenameShapeOK(rel) {
		return "", newErr(KindPermissionDenied, "token: %q is not a valid cache file name", rel)
	}

	// Re-derive the path through securejoin as a second, symlink-aware
	// containment check: a TOCTOU swap between Canonicalize and here
	// would make SecureJoin disagree with canonicalPath.
	safePath, err := securejoin.SecureJoin(canonicalDir, rel)
	if err != nil {
		return "", newErr(KindPermissionDenied, "token: %v", err)
	}

	if safePath != canonicalPath {
		return "", newErr(KindPermissionDenied, "token: path escapes cache directory")
	}

	return safePath, nil
}

// filenameShapeOK reports whether rel is exactly one path component
// matching filenamePattern: no separators, no "..", nothing nested.
func filenameShapeOK(rel string) bool {
	if rel != filepath.Base(rel) {
		return false
	}

	return filenamePattern.MatchString(rel)
}

func translateCanonicalizeErr(err error) error {
	if errors.Is(err, fs.ErrNotFound) {
		return newErr(KindNotFound, "token: %v", err)
	}

	return newErr(KindPermissionDenied, "token: %v", err)
}
