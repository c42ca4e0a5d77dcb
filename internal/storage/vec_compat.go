//go:build !(sqlite_vec && cgo)

package storage

import (
	"database/sql/driver"
	"fmt"

	sqlite "modernc.org/sqlite"
)

// sqliteDriverName selects the pure-Go driver on the default build; the
// sqlite_vec build tag swaps in the cgo driver with the native extension.
const sqliteDriverName = "sqlite"

func init() {
	// Register a sqlite-vec compatible vec_distance_cos so the ANN
	// pushdown in semantic.go runs the same SQL on either build.
	// Deterministic: identical blobs always produce the same distance.
	_ = sqlite.RegisterDeterministicScalarFunction("vec_distance_cos", 2, vecDistanceCos)
}

// vecDistanceCos computes cosine distance (1 - cosine similarity) between
// two embedding blobs in the raw little-endian float32 layout shared by
// encodeEmbedding and sqlite-vec.
func vecDistanceCos(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, err := blobToVector(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobToVector(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) == 0 || len(b) == 0 {
		return float64(1), nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vec_distance_cos: dimension mismatch %d vs %d", len(a), len(b))
	}
	return 1 - cosineSimilarity(a, b), nil
}

func blobToVector(v driver.Value) ([]float32, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeEmbedding(b)
	default:
		return nil, fmt.Errorf("vec_distance_cos: expected blob argument, got %T", v)
	}
}
