//go:build sqlite_vec && cgo

package storage

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteDriverName selects the cgo driver carrying the native sqlite-vec
// extension; the default build uses the pure-Go driver with the compat
// registration in vec_compat.go instead.
const sqliteDriverName = "sqlite3"

func init() {
	// Register sqlite-vec with the cgo driver. Its native vec_distance_cos
	// serves the same ANN pushdown SQL that the compat registration serves
	// on the pure-Go build.
	vec.Auto()
}
