package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BlobVersion is the current serialization format for persisted embeddings.
// The version byte exists so a future encoder/format change is detected and
// routed through re-embedding instead of silently comparing incompatible
// vectors.
const BlobVersion = 1

const blobHeaderLen = 3 // version byte + uint16 dimension

// MarshalBlob serializes an embedding as
// [version:1][dim:uint16 LE][dim * float32 LE].
func MarshalBlob(vec []float32) ([]byte, error) {
	if len(vec) == 0 || len(vec) > math.MaxUint16 {
		return nil, fmt.Errorf("invalid embedding length %d", len(vec))
	}

	blob := make([]byte, blobHeaderLen+4*len(vec))
	blob[0] = BlobVersion
	binary.LittleEndian.PutUint16(blob[1:3], uint16(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[blobHeaderLen+4*i:], math.Float32bits(v))
	}
	return blob, nil
}

// UnmarshalBlob decodes a persisted embedding and enforces the expected
// dimensionality. A version or dimension mismatch is an error; callers
// treat it as "embedding absent" and re-embed.
func UnmarshalBlob(blob []byte, dim int) ([]float32, error) {
	if len(blob) < blobHeaderLen {
		return nil, fmt.Errorf("embedding blob too short (%d bytes)", len(blob))
	}
	if blob[0] != BlobVersion {
		return nil, fmt.Errorf("unsupported embedding blob version %d (want %d)", blob[0], BlobVersion)
	}

	n := int(binary.LittleEndian.Uint16(blob[1:3]))
	if n != dim {
		return nil, fmt.Errorf("embedding dimension mismatch: blob has %d, index expects %d", n, dim)
	}
	if len(blob) != blobHeaderLen+4*n {
		return nil, fmt.Errorf("embedding blob length %d inconsistent with dimension %d", len(blob), n)
	}

	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[blobHeaderLen+4*i:]))
	}
	return vec, nil
}

// Normalize scales vec to unit length in place so that inner product equals
// cosine similarity. A zero vector is left untouched.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
