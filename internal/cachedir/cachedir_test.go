package cachedir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nbstore/blobcache/internal/fs"
)

func TestFallbackStrategy_UnderTempDir(t *testing.T) {
	r := NewResolver(PlatformFallback, "")
	dir := r.SystemCacheDir("/anything", "ws-1")

	want := filepath.Join(os.TempDir(), RootName, WorkspaceBucket("ws-1"))
	if dir != want {
		t.Fatalf("SystemCacheDir() = %q, want %q", dir, want)
	}
}

func TestNewResolver_CustomRootName(t *testing.T) {
	r := NewResolver(PlatformFallback, "custom-root")
	dir := r.SystemCacheDir("/anything", "ws-1")

	want := filepath.Join(os.TempDir(), "custom-root", WorkspaceBucket("ws-1"))
	if dir != want {
		t.Fatalf("SystemCacheDir() = %q, want %q", dir, want)
	}
}

func TestAndroidStrategy_FindsFilesAncestor(t *testing.T) {
	r := NewResolver(PlatformAndroid, "")
	dbPath := filepath.Join("/data/user/0/app", "files", "db", "workspace.sqlite")

	dir := r.SystemCacheDir(dbPath, "ws-1")

	want := filepath.Join("/data/user/0/app", "cache", RootName, WorkspaceBucket("ws-1"))
	if dir != want {
		t.Fatalf("SystemCacheDir() = %q, want %q", dir, want)
	}
}

func TestAndroidStrategy_FallsBackWithoutFilesAncestor(t *testing.T) {
	r := NewResolver(PlatformAndroid, "")
	dir := r.SystemCacheDir("/data/user/0/app/db/workspace.sqlite", "ws-1")

	want := filepath.Join(os.TempDir(), RootName, WorkspaceBucket("ws-1"))
	if dir != want {
		t.Fatalf("SystemCacheDir() = %q, want fallback %q", dir, want)
	}
}

func TestIOSStrategy_FindsDocumentsAncestor(t *testing.T) {
	r := NewResolver(PlatformIOS, "")
	dbPath := filepath.Join("/var/mobile/Containers/Data/app-uuid", "Documents", "workspace.sqlite")

	dir := r.SystemCacheDir(dbPath, "ws-1")

	want := filepath.Join("/var/mobile/Containers/Data/app-uuid", "Library", "Caches", RootName, WorkspaceBucket("ws-1"))
	if dir != want {
		t.Fatalf("SystemCacheDir() = %q, want %q", dir, want)
	}
}

func TestIOSStrategy_FallsBackWithoutDocumentsAncestor(t *testing.T) {
	r := NewResolver(PlatformIOS, "")
	dir := r.SystemCacheDir("/var/mobile/app-uuid/workspace.sqlite", "ws-1")

	want := filepath.Join(os.TempDir(), RootName, WorkspaceBucket("ws-1"))
	if dir != want {
		t.Fatalf("SystemCacheDir() = %q, want fallback %q", dir, want)
	}
}

func TestWorkspaceBucket_Deterministic(t *testing.T) {
	a := WorkspaceBucket("ws-1")
	b := WorkspaceBucket("ws-1")

	if a != b {
		t.Fatalf("WorkspaceBucket() not deterministic: %q != %q", a, b)
	}

	if len(a) != 16 {
		t.Fatalf("WorkspaceBucket() len = %d, want 16", len(a))
	}
}

func TestRegistry_RegisterCreatesAndTracksDir(t *testing.T) {
	root := t.TempDir()
	real := fs.NewReal()

	reg := NewRegistry(stubResolver{dir: filepath.Join(root, "ws-1")}, real)

	dir, err := reg.Register("ws-1", "/unused")
	require.NoError(t, err)

	exists, _ := real.Exists(dir)
	require.True(t, exists, "expected cache dir %q to exist", dir)

	got, ok := reg.Lookup("ws-1")
	require.True(t, ok)
	require.Equal(t, dir, got)
}

func TestRegistry_RegisterScrubsStaleFiles(t *testing.T) {
	root := t.TempDir()
	real := fs.NewReal()
	dir := filepath.Join(root, "ws-1")

	reg := NewRegistry(stubResolver{dir: dir}, real)

	if _, err := reg.Register("ws-1", "/unused"); err != nil {
		t.Fatalf("first Register() err = %v", err)
	}

	stale := filepath.Join(dir, "leftover.blob")
	if err := real.WriteFileAtomic(stale, []byte("x")); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	subdir := filepath.Join(dir, "kept-subdir")
	if err := real.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("seed subdir: %v", err)
	}

	if _, err := reg.Register("ws-1", "/unused"); err != nil {
		t.Fatalf("second Register() err = %v", err)
	}

	if exists, _ := real.Exists(stale); exists {
		t.Fatalf("stale file %q should have been scrubbed", stale)
	}

	if exists, _ := real.Exists(subdir); !exists {
		t.Fatalf("subdirectory %q should be left alone", subdir)
	}
}

func TestRegistry_UnregisterRemovesDirAndMapping(t *testing.T) {
	root := t.TempDir()
	real := fs.NewReal()
	dir := filepath.Join(root, "ws-1")

	reg := NewRegistry(stubResolver{dir: dir}, real)

	if _, err := reg.Register("ws-1", "/unused"); err != nil {
		t.Fatalf("Register() err = %v", err)
	}

	if err := reg.Unregister("ws-1"); err != nil {
		t.Fatalf("Unregister() err = %v", err)
	}

	if exists, _ := real.Exists(dir); exists {
		t.Fatalf("directory %q should be removed after Unregister", dir)
	}

	if _, ok := reg.Lookup("ws-1"); ok {
		t.Fatalf("Lookup() ok = true after Unregister")
	}
}

func TestRegistry_UnregisterRemovesEmptyParent(t *testing.T) {
	root := t.TempDir()
	real := fs.NewReal()
	parent := filepath.Join(root, "nbstore-blob-cache")
	dir := filepath.Join(parent, "ws-1")

	reg := NewRegistry(stubResolver{dir: dir}, real)

	if _, err := reg.Register("ws-1", "/unused"); err != nil {
		t.Fatalf("Register() err = %v", err)
	}

	if err := reg.Unregister("ws-1"); err != nil {
		t.Fatalf("Unregister() err = %v", err)
	}

	if exists, _ := real.Exists(parent); exists {
		t.Fatalf("empty parent %q should be removed after Unregister", parent)
	}
}

func TestRegistry_UnregisterLeavesNonEmptyParentAlone(t *testing.T) {
	root := t.TempDir()
	real := fs.NewReal()
	parent := filepath.Join(root, "nbstore-blob-cache")
	dirA := filepath.Join(parent, "ws-a")
	dirB := filepath.Join(parent, "ws-b")

	regA := NewRegistry(stubResolver{dir: dirA}, real)
	regB := NewRegistry(stubResolver{dir: dirB}, real)

	if _, err := regA.Register("ws-a", "/unused"); err != nil {
		t.Fatalf("Register(ws-a) err = %v", err)
	}

	if _, err := regB.Register("ws-b", "/unused"); err != nil {
		t.Fatalf("Register(ws-b) err = %v", err)
	}

	if err := regA.Unregister("ws-a"); err != nil {
		t.Fatalf("Unregister() err = %v", err)
	}

	if exists, _ := real.Exists(parent); !exists {
		t.Fatalf("parent %q should survive while ws-b still occupies it", parent)
	}

	if exists, _ := real.Exists(dirB); !exists {
		t.Fatalf("sibling workspace dir %q should be untouched", dirB)
	}
}

func TestRegistry_UnregisterUnknownWorkspaceIsNoOp(t *testing.T) {
	reg := NewRegistry(NewResolver(PlatformFallback, ""), fs.NewReal())

	if err := reg.Unregister("never-registered"); err != nil {
		t.Fatalf("Unregister() err = %v, want nil for unknown workspace", err)
	}
}

type stubResolver struct{ dir string }

func (s stubResolver) SystemCacheDir(_, _ string) string { return s.dir }
