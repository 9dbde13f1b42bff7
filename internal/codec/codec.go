// Package codec implements the FFI payload codec: base64 inline encoding
// and the sentinel-prefixed file-path token that stands in for a spilled
// blob. It has no state and performs no I/O.
package codec

import (
	"encoding/base64"
	"strings"
)

// FileTokenPrefix is the literal ASCII sentinel that marks a payload string
// as a file-path token rather than inline base64.
const FileTokenPrefix = "__AFFINE_BLOB_FILE__:"

// fileScheme is an optional URL scheme consumers may prepend to the path
// portion of a file-path token; readers must accept it or its absence.
const fileScheme = "file://"

// SpillThresholdBytes is the minimum payload length, in bytes, at which a
// get_blob result is spilled to a cache file instead of inlined as base64.
const SpillThresholdBytes = 1024 * 1024 // 1 MiB

// EncodeInline returns the standard, padded base64 encoding of data.
func EncodeInline(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeInline decodes a standard base64 string back into bytes.
func DecodeInline(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// IsFileToken reports whether s is a file-path token rather than inline
// base64.
func IsFileToken(s string) bool {
	return strings.HasPrefix(s, FileTokenPrefix)
}

// EncodeFileToken wraps an absolute path as a file-path token.
func EncodeFileToken(absolutePath string) string {
	return FileTokenPrefix + absolutePath
}

// StripFileToken removes the sentinel prefix and an optional "file://"
// scheme, returning the raw path. ok is false if s does not carry the
// sentinel prefix at all.
func StripFileToken(s string) (path string, ok bool) {
	rest, found := strings.CutPrefix(s, FileTokenPrefix)
	if !found {
		return "", false
	}

	rest = strings.TrimPrefix(rest, fileScheme)

	return rest, true
}

// ShouldSpill reports whether a payload of the given length should be
// cached to a file instead of returned inline.
func ShouldSpill(payloadLen int) bool {
	return payloadLen >= SpillThresholdBytes
}
