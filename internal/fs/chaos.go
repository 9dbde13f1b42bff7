package fs

import (
	"io/fs"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always). The zero value
// disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often Open fails to open a file.
	OpenFailRate float64

	// ReadFailRate controls how often ReadFile fails entirely.
	ReadFailRate float64

	// WriteFailRate controls how often WriteFileAtomic fails before the
	// rename lands, leaving the destination path untouched.
	WriteFailRate float64

	// MkdirFailRate controls how often MkdirAll fails.
	MkdirFailRate float64

	// RemoveFailRate controls how often Remove/RemoveAll fail.
	RemoveFailRate float64

	// StatFailRate controls how often Stat fails with an error other than
	// "not exist" (a real I/O error, as opposed to a legitimate miss).
	StatFailRate float64
}

// ChaosMode selects whether [Chaos] injects faults or passes calls through.
type ChaosMode uint32

const (
	// ChaosModeInject injects faults according to [ChaosConfig] (default).
	ChaosModeInject ChaosMode = iota
	// ChaosModeNoOp disables injection; all calls pass through to the
	// wrapped [FS].
	ChaosModeNoOp
)

// Chaos wraps an [FS] and injects random failures for testing the cache's
// recovery paths (get_blob's inline fallback, best-effort invalidation).
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	rngMu  sync.Mutex
	config ChaosConfig
	mode   atomic.Uint32

	openFails   atomic.Int64
	readFails   atomic.Int64
	writeFails  atomic.Int64
	mkdirFails  atomic.Int64
	removeFails atomic.Int64
	statFails   atomic.Int64
}

// NewChaos creates a [Chaos] filesystem wrapping fsys, seeded for
// reproducibility.
func NewChaos(fsys FS, seed int64, cfg ChaosConfig) *Chaos {
	return &Chaos{
		fs:     fsys,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test fault injection, not crypto
		config: cfg,
	}
}

// SetMode switches between fault injection and passthrough.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// ChaosStats reports how many operations were made to fail, for assertions
// that injected faults were actually exercised.
type ChaosStats struct {
	OpenFails   int64
	ReadFails   int64
	WriteFails  int64
	MkdirFails  int64
	RemoveFails int64
	StatFails   int64
}

func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:   c.openFails.Load(),
		ReadFails:   c.readFails.Load(),
		WriteFails:  c.writeFails.Load(),
		MkdirFails:  c.mkdirFails.Load(),
		RemoveFails: c.removeFails.Load(),
		StatFails:   c.statFails.Load(),
	}
}

func (c *Chaos) injecting() bool {
	return ChaosMode(c.mode.Load()) == ChaosModeInject
}

func (c *Chaos) should(rate float64) bool {
	if !c.injecting() || rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) Open(path string) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, &fs.PathError{Op: "open", Path: path, Err: syscall.EIO}
	}

	return c.fs.Open(path)
}

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.should(c.config.ReadFailRate) {
		c.readFails.Add(1)

		return nil, &fs.PathError{Op: "read", Path: path, Err: syscall.EIO}
	}

	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return &fs.PathError{Op: "write", Path: path, Err: syscall.ENOSPC}
	}

	return c.fs.WriteFileAtomic(path, data)
}

func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.should(c.config.MkdirFailRate) {
		c.mkdirFails.Add(1)

		return &fs.PathError{Op: "mkdir", Path: path, Err: syscall.EACCES}
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, &fs.PathError{Op: "stat", Path: path, Err: syscall.EIO}
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	return c.fs.Exists(path)
}

func (c *Chaos) Canonicalize(path string) (string, error) {
	return c.fs.Canonicalize(path)
}

func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return &fs.PathError{Op: "remove", Path: path, Err: syscall.EBUSY}
	}

	return c.fs.Remove(path)
}

func (c *Chaos) RemoveAll(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return &fs.PathError{Op: "removeall", Path: path, Err: syscall.EBUSY}
	}

	return c.fs.RemoveAll(path)
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)
