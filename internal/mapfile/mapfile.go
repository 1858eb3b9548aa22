// Package mapfile persists a navigation mesh and its named per-vertex
// attribute maps in a single SQLite file.
//
// A map file is the on-disk cache for cost layers: a layer that finds its
// attribute here skips recomputing it from geometry. Attribute values are
// stored as gob+gzip blobs keyed by name; the schema is managed by
// golang-migrate with migrations embedded in the binary.
package mapfile

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/meshlayers/internal/monitoring"
	"github.com/banshee-data/meshlayers/internal/timeutil"
	_ "modernc.org/sqlite"
)

// MapFile is an open map file.
type MapFile struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

// Open opens (creating if needed) the map file at path and migrates its
// schema to the latest version.
func Open(path string) (*MapFile, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open map file: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	mf := &MapFile{db: db, path: path, clock: timeutil.RealClock{}}
	if err := mf.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	monitoring.Logf("[MapFile] Opened %s", path)
	return mf, nil
}

// Path returns the file path the map file was opened from.
func (mf *MapFile) Path() string { return mf.path }

// DB exposes the underlying database handle for admin tooling.
func (mf *MapFile) DB() *sql.DB { return mf.db }

// SetClock replaces the clock used for row timestamps.
func (mf *MapFile) SetClock(c timeutil.Clock) { mf.clock = c }

// Close closes the underlying database.
func (mf *MapFile) Close() error {
	return mf.db.Close()
}
