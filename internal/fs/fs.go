// Package fs provides filesystem abstractions for the cache layers.
//
// The main types are:
//   - [FS]: interface for the filesystem operations the cache needs
//   - [File]: interface for open files (satisfied by [os.File])
//   - [Real]: production implementation backed by the [os] package
//   - [Chaos]: testing implementation that injects random failures
//
// Every blocking call the cache makes goes through [FS] instead of calling
// [os] directly, so tests can substitute [Chaos] (wrapping [Real]) to
// exercise the cache-write-failure fallback paths.
package fs

import (
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned (wrapped) by Canonicalize when the path does not
// exist. Implementations should make errors.Is(err, ErrNotFound) true for
// that case so callers can distinguish it from a permission error.
var ErrNotFound = errors.New("fs: not found")

// File represents an open file descriptor.
//
// Satisfied by [os.File] and usable with any stdlib function accepting
// [io.Reader], [io.Writer], or [io.Closer].
type File interface {
	io.ReadWriteCloser

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	Stat() (os.FileInfo, error)
}

// FS defines the filesystem operations the cache layers need.
//
// Two implementations are provided:
//   - [Real]: production use, wraps [os]
//   - [Chaos]: testing use, injects random failures
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data to a file atomically (temp file + rename).
	WriteFileAtomic(path string, data []byte) error

	// ReadDir reads a directory and returns its entries. See [os.ReadDir].
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a path exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Canonicalize resolves path to its absolute, symlink-free form. See
	// [filepath.EvalSymlinks]. Wraps ErrNotFound if path does not exist.
	Canonicalize(path string) (string, error)

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// RemoveAll deletes a path and any children. See [os.RemoveAll].
	RemoveAll(path string) error
}

// Compile-time interface check.
var _ File = (*os.File)(nil)
