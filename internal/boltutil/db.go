// Package boltutil wires a single bbolt database file for every store that
// needs crash-recoverable persistence (§4.1, §4.2): the order store and the
// secret store each open their own top-level buckets inside one shared DB
// handle, so a single fsync'd write path backs both.
package boltutil

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

const dbFilePermission = 0600

// migration mutates the bucket structure of tx to move the database from
// one schema version to the next.
type migration func(tx *bolt.Tx) error

type version struct {
	number    uint32
	migration migration
}

// dbVersions lists every schema version this binary knows about, in
// ascending order. The base version requires no migration.
var dbVersions = []version{
	{number: 0, migration: nil},
}

var metaBucket = []byte("meta")
var dbVersionKey = []byte("version")

// DB is the shared bbolt handle both the order store and secret store open
// their buckets against.
type DB struct {
	*bolt.DB
	path string
}

// Open opens (creating the parent directory if necessary) the bbolt file at
// path, then applies any schema migrations needed to bring it up to the
// current version.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if !fileExists(dir) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	db := &DB{DB: bdb, path: path}
	if err := db.syncVersions(dbVersions); err != nil {
		bdb.Close()
		return nil, err
	}

	return db, nil
}

// EnsureBucket creates the named top-level bucket if it does not already
// exist. Stores call this once at construction for each bucket they own.
func (d *DB) EnsureBucket(name []byte) error {
	return d.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (d *DB) currentVersion() (uint32, error) {
	var v uint32
	err := d.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if b == nil {
			return nil
		}
		raw := b.Get(dbVersionKey)
		if len(raw) != 4 {
			return nil
		}
		v = uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
		return nil
	})
	return v, err
}

func (d *DB) setVersion(tx *bolt.Tx, v uint32) error {
	b, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}
	buf := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return b.Put(dbVersionKey, buf)
}

// syncVersions applies, inside a single transaction, every migration newer
// than the database's current recorded version.
func (d *DB) syncVersions(versions []version) error {
	current, err := d.currentVersion()
	if err != nil {
		return err
	}

	latest := versions[len(versions)-1].number
	if current == latest {
		return nil
	}

	return d.Update(func(tx *bolt.Tx) error {
		for _, v := range versions {
			if v.number <= current || v.migration == nil {
				continue
			}
			if err := v.migration(tx); err != nil {
				return fmt.Errorf("migration %d: %w", v.number, err)
			}
		}
		return d.setVersion(tx, latest)
	})
}
