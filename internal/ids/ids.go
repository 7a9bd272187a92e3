// Package ids provides the small, stateless helpers shared across BigHeads:
// timestamps, base64, compact JSON, fixed-size chunking, and ID derivation.
package ids

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Now returns the current unix timestamp as float seconds, matching the
// envelope timestamp field's wire representation.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// NewMsgID returns a fresh 128-bit random identifier for an envelope or
// fragmented frame.
func NewMsgID() string {
	return uuid.NewString()
}

// ShortNodeID derives an 8-hex-char node id from a seed string (the
// prefix of SHA-256 over the seed). If seed is empty a random UUID is
// used as the seed, matching the original's fallback to a random UUID.
func ShortNodeID(seed string) string {
	if seed == "" {
		seed = uuid.NewString()
	}
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:8]
}

// ToB64 encodes bytes as standard base64.
func ToB64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromB64 decodes standard base64 text.
func FromB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// CompactJSON encodes v as compact (no insignificant whitespace) UTF-8 JSON.
func CompactJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// SafeJSONUnmarshal decodes raw into out, returning false instead of an
// error on malformed input — callers treat unparseable frames as silently
// droppable per spec.
func SafeJSONUnmarshal(raw []byte, out any) bool {
	return json.Unmarshal(raw, out) == nil
}

// ChunkBytes splits data into chunks of at most size bytes each.
func ChunkBytes(data []byte, size int) [][]byte {
	if size <= 0 {
		return nil
	}
	var out [][]byte
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[i:end])
	}
	return out
}

// ChunkString splits s into chunks of at most size runes-as-bytes each
// (s is expected to be ASCII base64 text, so byte slicing is safe).
func ChunkString(s string, size int) []string {
	if size <= 0 {
		return nil
	}
	var out []string
	for i := 0; i < len(s); i += size {
		end := i + size
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
	}
	return out
}
