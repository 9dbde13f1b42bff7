package fs

import (
	"path/filepath"
	"testing"
)

func TestChaos_InjectsWriteFault(t *testing.T) {
	real := NewReal()
	chaos := NewChaos(real, 1, ChaosConfig{WriteFailRate: 1.0})
	chaos.SetMode(ChaosModeInject)

	dir := t.TempDir()
	path := filepath.Join(dir, "data.blob")

	err := chaos.WriteFileAtomic(path, []byte("x"))
	if err == nil {
		t.Fatalf("WriteFileAtomic() err = nil, want injected failure")
	}

	if got, want := chaos.Stats().WriteFails, int64(1); got != want {
		t.Fatalf("WriteFails = %d, want %d", got, want)
	}

	if exists, _ := real.Exists(path); exists {
		t.Fatalf("file should not exist after a failed atomic write")
	}
}

func TestChaos_NoOpModePassesThrough(t *testing.T) {
	real := NewReal()
	chaos := NewChaos(real, 2, ChaosConfig{WriteFailRate: 1.0})
	chaos.SetMode(ChaosModeNoOp)

	dir := t.TempDir()
	path := filepath.Join(dir, "data.blob")

	if err := chaos.WriteFileAtomic(path, []byte("x")); err != nil {
		t.Fatalf("WriteFileAtomic() err = %v, want nil in no-op mode", err)
	}

	if got, want := chaos.Stats().WriteFails, int64(0); got != want {
		t.Fatalf("WriteFails = %d, want %d", got, want)
	}
}

func TestChaos_InjectsMkdirFault(t *testing.T) {
	real := NewReal()
	chaos := NewChaos(real, 3, ChaosConfig{MkdirFailRate: 1.0})
	chaos.SetMode(ChaosModeInject)

	dir := t.TempDir()

	err := chaos.MkdirAll(filepath.Join(dir, "sub"), 0o755)
	if err == nil {
		t.Fatalf("MkdirAll() err = nil, want injected failure")
	}
}

func TestChaos_ZeroRateNeverInjects(t *testing.T) {
	real := NewReal()
	chaos := NewChaos(real, 4, ChaosConfig{})
	chaos.SetMode(ChaosModeInject)

	dir := t.TempDir()
	path := filepath.Join(dir, "data.blob")

	if err := chaos.WriteFileAtomic(path, []byte("x")); err != nil {
		t.Fatalf("WriteFileAtomic() err = %v, want nil", err)
	}

	if _, err := chaos.ReadFile(path); err != nil {
		t.Fatalf("ReadFile() err = %v, want nil", err)
	}
}

func TestChaos_InjectsRemoveFault(t *testing.T) {
	real := NewReal()
	chaos := NewChaos(real, 5, ChaosConfig{RemoveFailRate: 1.0})
	chaos.SetMode(ChaosModeInject)

	dir := t.TempDir()
	path := filepath.Join(dir, "data.blob")

	if err := real.WriteFileAtomic(path, []byte("x")); err != nil {
		t.Fatalf("setup WriteFileAtomic: %v", err)
	}

	if err := chaos.Remove(path); err == nil {
		t.Fatalf("Remove() err = nil, want injected failure")
	}

	if got, want := chaos.Stats().RemoveFails, int64(1); got != want {
		t.Fatalf("RemoveFails = %d, want %d", got, want)
	}
}
