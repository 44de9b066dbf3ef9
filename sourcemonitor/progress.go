package sourcemonitor

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/devdotbo/bmn-evm-resolver-sub002/internal/boltutil"
)

var progressBucket = []byte("sourcemonitor-progress")
var lastProcessedKey = []byte("last_processed_block")

// Progress persists last_processed_block across restarts (§4.4
// "persist the block number as the new last_processed_block").
type Progress struct {
	db *boltutil.DB
}

// NewProgress opens a Progress store against db.
func NewProgress(db *boltutil.DB) (*Progress, error) {
	if err := db.EnsureBucket(progressBucket); err != nil {
		return nil, fmt.Errorf("sourcemonitor: ensure progress bucket: %w", err)
	}
	return &Progress{db: db}, nil
}

// LastProcessed returns the last block number persisted, or 0 if none.
func (p *Progress) LastProcessed() (uint64, error) {
	var block uint64
	err := p.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(progressBucket).Get(lastProcessedKey)
		if raw == nil {
			return nil
		}
		block = binary.BigEndian.Uint64(raw)
		return nil
	})
	return block, err
}

// SetLastProcessed persists block as the new last_processed_block.
func (p *Progress) SetLastProcessed(block uint64) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], block)
		return tx.Bucket(progressBucket).Put(lastProcessedKey, raw[:])
	})
}
