// Package blobtypes defines the value types shared across the cache layers
// and the facade, kept separate from both to avoid import cycles between
// internal/store and the root blobcache package.
package blobtypes

// Blob is the value the underlying store returns for a single blob. It is
// immutable once constructed; the cache and facade only ever read it.
type Blob struct {
	Key       string
	Data      []byte
	Mime      string
	Size      int64
	CreatedAt int64 // milliseconds since epoch
}

// SetBlob is the decoded form of an incoming blob write: bytes plus
// metadata, ready to hand to the store. DataEncoded on the FFI-facing type
// has already been decoded into Data by the time this reaches the store.
type SetBlob struct {
	Key  string
	Data []byte
	Mime string
}

// FfiSetBlob is the value received across the FFI boundary for a blob
// write: DataEncoded is either base64 or a file-path token, not yet
// decoded.
type FfiSetBlob struct {
	Key         string
	DataEncoded string
	Mime        string
}

// ListedBlob is a blob summary returned by list operations; it carries no
// payload.
type ListedBlob struct {
	Key       string
	Size      int64
	Mime      string
	CreatedAt int64
}

// FfiBlob is the value returned across the FFI boundary: DataEncoded is
// either a base64 string or a file-path token, never raw bytes.
type FfiBlob struct {
	Key         string
	DataEncoded string
	Mime        string
	Size        int64
	CreatedAt   int64
}

// CacheEntry is a single record in the entry index: a spilled blob's
// backing file and the metadata needed to reconstruct an FfiBlob without
// re-reading the store.
type CacheEntry struct {
	BlobKey         string
	AbsolutePath    string
	Mime            string
	SizeBytes       int64
	CreatedAtMillis int64
}
