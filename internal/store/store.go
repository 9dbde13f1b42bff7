// Package store defines the interface the cache facade uses to reach the
// underlying, persistent blob store, and a map-backed in-memory
// implementation for tests and reference hosts. Document/update encoding,
// CRDT merging, and markdown conversion all live on the far side of this
// interface and are out of scope here.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nbstore/blobcache/internal/blobtypes"
)

// ErrNotConnected is returned by any operation performed before Connect
// succeeds for the workspace.
var ErrNotConnected = fmt.Errorf("store: workspace not connected")

// ErrNotFound is returned by GetBlob when the key has no blob.
// Memory.DeleteBlob of a missing key succeeds.
var ErrNotFound = fmt.Errorf("store: blob not found")

// Store is the persistence collaborator the facade calls into. A
// production host backs this with its real document storage; store.Memory
// is a reference implementation used by this module's own tests.
type Store interface {
	// Connect opens the store for workspaceID, rooted at databasePath.
	Connect(ctx context.Context, workspaceID, databasePath string) error

	// Disconnect closes the store for workspaceID. Idempotent.
	Disconnect(ctx context.Context, workspaceID string) error

	// GetBlob returns the blob for key, or ErrNotFound.
	GetBlob(ctx context.Context, workspaceID, key string) (blobtypes.Blob, error)

	// SetBlob stores blob, replacing any existing blob for the same key.
	SetBlob(ctx context.Context, workspaceID string, blob blobtypes.SetBlob) error

	// DeleteBlob removes the blob for key. permanently distinguishes a
	// tombstone delete from a soft delete for stores that support both;
	// store.Memory treats both the same way.
	DeleteBlob(ctx context.Context, workspaceID, key string, permanently bool) error

	// ReleaseBlobs drops every blob for workspaceID.
	ReleaseBlobs(ctx context.Context, workspaceID string) error

	// ListBlobs returns a summary of every blob currently stored for
	// workspaceID, ordered by key.
	ListBlobs(ctx context.Context, workspaceID string) ([]blobtypes.ListedBlob, error)

	// SetSpaceID records the logical space a workspace's blobs belong to.
	// A thin pass-through with no cache interaction.
	SetSpaceID(ctx context.Context, workspaceID, spaceID string) error

	// PushUpdate forwards a raw CRDT update to the store. A thin
	// pass-through with no cache interaction; update content is opaque
	// here.
	PushUpdate(ctx context.Context, workspaceID string, update []byte) error
}

type workspaceData struct {
	spaceID string
	blobs   map[string]blobtypes.Blob
	updates [][]byte
}

// Memory is an in-process, map-backed Store. It is not persisted across
// process restarts and is intended for tests and as a reference
// implementation a host application can swap out for a real store without
// changing anything above this interface.
type Memory struct {
	mu         sync.RWMutex
	workspaces map[string]*workspaceData
	now        func() int64
}

// NewMemory returns an empty Memory store. now supplies the millisecond
// timestamp recorded on each new blob; pass a fixed func for deterministic
// tests.
func NewMemory(now func() int64) *Memory {
	return &Memory{
		workspaces: make(map[string]*workspaceData),
		now:        now,
	}
}

func (m *Memory) Connect(_ context.Context, workspaceID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workspaces[workspaceID]; !ok {
		m.workspaces[workspaceID] = &workspaceData{blobs: make(map[string]blobtypes.Blob)}
	}

	return nil
}

func (m *Memory) Disconnect(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workspaces, workspaceID)

	return nil
}

func (m *Memory) workspace(workspaceID string) (*workspaceData, error) {
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return nil, ErrNotConnected
	}

	return ws, nil
}

func (m *Memory) GetBlob(_ context.Context, workspaceID, key string) (blobtypes.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, err := m.workspace(workspaceID)
	if err != nil {
		return blobtypes.Blob{}, err
	}

	blob, ok := ws.blobs[key]
	if !ok {
		return blobtypes.Blob{}, ErrNotFound
	}

	return blob, nil
}

func (m *Memory) SetBlob(_ context.Context, workspaceID string, set blobtypes.SetBlob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace(workspaceID)
	if err != nil {
		return err
	}

	ws.blobs[set.Key] = blobtypes.Blob{
		Key:       set.Key,
		Data:      set.Data,
		Mime:      set.Mime,
		Size:      int64(len(set.Data)),
		CreatedAt: m.now(),
	}

	return nil
}

func (m *Memory) DeleteBlob(_ context.Context, workspaceID, key string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace(workspaceID)
	if err != nil {
		return err
	}

	delete(ws.blobs, key)

	return nil
}

func (m *Memory) ReleaseBlobs(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace(workspaceID)
	if err != nil {
		return err
	}

	ws.blobs = make(map[string]blobtypes.Blob)

	return nil
}

func (m *Memory) ListBlobs(_ context.Context, workspaceID string) ([]blobtypes.ListedBlob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, err := m.workspace(workspaceID)
	if err != nil {
		return nil, err
	}

	out := make([]blobtypes.ListedBlob, 0, len(ws.blobs))
	for _, b := range ws.blobs {
		out = append(out, blobtypes.ListedBlob{
			Key:       b.Key,
			Size:      b.Size,
			Mime:      b.Mime,
			CreatedAt: b.CreatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

func (m *Memory) SetSpaceID(_ context.Context, workspaceID, spaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace(workspaceID)
	if err != nil {
		return err
	}

	ws.spaceID = spaceID

	return nil
}

func (m *Memory) PushUpdate(_ context.Context, workspaceID string, update []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, err := m.workspace(workspaceID)
	if err != nil {
		return err
	}

	ws.updates = append(ws.updates, update)

	return nil
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)
