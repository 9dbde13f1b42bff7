package token

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nbstore/blobcache/internal/codec"
	"github.com/nbstore/blobcache/internal/fs"
)

func setup(t *testing.T) (*Reader, string) {
	t.Helper()

	dir := t.TempDir()
	lookup := func(workspaceID string) (string, bool) {
		if workspaceID != "ws-1" {
			return "", false
		}

		return dir, true
	}

	return NewReader(fs.NewReal(), lookup), dir
}

func writeCacheFile(t *testing.T, dir, stem string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, stem+".blob")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("seed cache file: %v", err)
	}

	return path
}

func TestReader_Read_HappyPath(t *testing.T) {
	r, dir := setup(t)
	path := writeCacheFile(t, dir, "0123456789abcdef", []byte("hello"))

	got, err := r.Read("ws-1", codec.EncodeFileToken(path))
	if err != nil {
		t.Fatalf("Read() err = %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("Read() = %q, want %q", got, "hello")
	}
}

func TestReader_Read_AcceptsFileScheme(t *testing.T) {
	r, dir := setup(t)
	path := writeCacheFile(t, dir, "0123456789abcdef", []byte("hello"))

	got, err := r.Read("ws-1", codec.FileTokenPrefix+"file://"+path)
	if err != nil {
		t.Fatalf("Read() err = %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("Read() = %q, want %q", got, "hello")
	}
}

func TestReader_Read_MissingPrefixIsInvalidInput(t *testing.T) {
	r, _ := setup(t)

	_, err := r.Read("ws-1", "not-a-token")

	var tokErr *Error
	if err == nil {
		t.Fatalf("Read() err = nil, want error")
	}

	if !asError(err, &tokErr) || tokErr.Kind != KindInvalidInput {
		t.Fatalf("Read() err = %v, want KindInvalidInput", err)
	}
}

func TestReader_Read_UnregisteredWorkspaceIsNotFound(t *testing.T) {
	r, dir := setup(t)
	path := writeCacheFile(t, dir, "0123456789abcdef", []byte("x"))

	_, err := r.Read("ws-unknown", codec.EncodeFileToken(path))

	var tokErr *Error
	if !asError(err, &tokErr) || tokErr.Kind != KindNotFound {
		t.Fatalf("Read() err = %v, want KindNotFound", err)
	}
}

func TestReader_Resolve_RejectsExtraPathComponents(t *testing.T) {
	r, dir := setup(t)

	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	path := writeCacheFile(t, sub, "0123456789abcdef", []byte("x"))

	_, err := r.Resolve("ws-1", codec.EncodeFileToken(path))

	var tokErr *Error
	if !asError(err, &tokErr) || tokErr.Kind != KindPermissionDenied {
		t.Fatalf("Resolve() err = %v, want KindPermissionDenied", err)
	}
}

func TestReader_Resolve_RejectsWrongExtension(t *testing.T) {
	r, dir := setup(t)
	path := filepath.Join(dir, "0123456789abcdef.txt")

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, err := r.Resolve("ws-1", codec.EncodeFileToken(path))

	var tokErr *Error
	if !asError(err, &tokErr) || tokErr.Kind != KindPermissionDenied {
		t.Fatalf("Resolve() err = %v, want KindPermissionDenied", err)
	}
}

func TestReader_Resolve_RejectsUppercaseHex(t *testing.T) {
	r, dir := setup(t)
	path := filepath.Join(dir, "0123456789ABCDEF.blob")

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	_, err := r.Resolve("ws-1", codec.EncodeFileToken(path))

	var tokErr *Error
	if !asError(err, &tokErr) || tokErr.Kind != KindPermissionDenied {
		t.Fatalf("Resolve() err = %v, want KindPermissionDenied", err)
	}
}

func TestReader_Resolve_RejectsShortOrLongHexStem(t *testing.T) {
	r, dir := setup(t)

	for _, stem := range []string{"0123456789abcde", "0123456789abcdef0"} {
		path := filepath.Join(dir, stem+".blob")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}

		_, err := r.Resolve("ws-1", codec.EncodeFileToken(path))

		var tokErr *Error
		if !asError(err, &tokErr) || tokErr.Kind != KindPermissionDenied {
			t.Fatalf("Resolve(%q) err = %v, want KindPermissionDenied", stem, err)
		}
	}
}

func TestReader_Resolve_RejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	secretPath := filepath.Join(outside, "secret.blob")

	if err := os.WriteFile(secretPath, []byte("top secret"), 0o644); err != nil {
		t.Fatalf("seed outside file: %v", err)
	}

	r, dir := setup(t)
	link := filepath.Join(dir, "0123456789abcdef.blob")

	if err := os.Symlink(secretPath, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	_, err := r.Resolve("ws-1", codec.EncodeFileToken(link))

	var tokErr *Error
	if !asError(err, &tokErr) || tokErr.Kind != KindPermissionDenied {
		t.Fatalf("Resolve() err = %v, want KindPermissionDenied for symlink escape", err)
	}
}

func TestReader_Read_RejectsDirectory(t *testing.T) {
	r, dir := setup(t)

	dirAsFile := filepath.Join(dir, "0123456789abcdef.blob")
	if err := os.MkdirAll(dirAsFile, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := r.Read("ws-1", codec.EncodeFileToken(dirAsFile))

	var tokErr *Error
	if !asError(err, &tokErr) || tokErr.Kind != KindInvalidInput {
		t.Fatalf("Read() err = %v, want KindInvalidInput for directory", err)
	}
}

func TestReader_Read_RejectsOversizedFile(t *testing.T) {
	r, dir := setup(t)
	path := filepath.Join(dir, "0123456789abcdef.blob")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.Truncate(MaxReadBytes + 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	_, err = r.Read("ws-1", codec.EncodeFileToken(path))

	var tokErr *Error
	if !asError(err, &tokErr) || tokErr.Kind != KindInvalidData {
		t.Fatalf("Read() err = %v, want KindInvalidData for oversized file", err)
	}
}

func asError(err error, target **Error) bool {
	te, ok := err.(*Error)
	if !ok {
		return false
	}

	*target = te

	return true
}
