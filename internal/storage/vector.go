package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeEmbedding serializes a float32 vector as a little-endian binary blob
// for BLOB storage.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	buf.Grow(len(v) * 4)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// decodeEmbedding is the inverse of encodeEmbedding.
func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("storage: embedding blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("storage: decode embedding: %w", err)
	}
	return out, nil
}

// cosineSimilarity returns the cosine similarity of a and b in [-1, 1], or 0
// if either vector has zero magnitude or the dimensions mismatch.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
