// Package journal persists which chunks of a dispatch job were already submitted,
// so an interrupted run can be resumed without sending a chunk twice.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcmn "github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

var ErrClosed = errors.New("journal is closed")

// Entry is one submitted chunk.
type Entry struct {
	Index int
	Hash  ethcmn.Hash
}

// Journal is a bbolt file with one bucket per job, keyed by big-endian chunk index.
type Journal struct {
	once sync.Once
	db   *bolt.DB
}

// Open opens or creates the journal at path. It fails after a second if another
// process holds the file.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func indexKey(index int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(index))
	return k[:]
}

// Lookup returns the hash recorded for chunk index of job, if any.
func (j *Journal) Lookup(job string, index int) (ethcmn.Hash, bool, error) {
	var (
		hash  ethcmn.Hash
		found bool
	)
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(job))
		if b == nil {
			return nil
		}
		v := b.Get(indexKey(index))
		if v == nil {
			return nil
		}
		if len(v) != ethcmn.HashLength {
			return fmt.Errorf("job %s chunk %d: corrupt entry of %d bytes", job, index, len(v))
		}
		hash = ethcmn.BytesToHash(v)
		found = true
		return nil
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ethcmn.Hash{}, false, ErrClosed
	}
	return hash, found, err
}

// Record stores hash for chunk index of job. The write is synced before it returns.
func (j *Journal) Record(job string, index int, hash ethcmn.Hash) error {
	err := j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(job))
		if err != nil {
			return err
		}
		return b.Put(indexKey(index), hash.Bytes())
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Entries lists the recorded chunks of job in index order.
func (j *Journal) Entries(job string) ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(job))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			out = append(out, Entry{
				Index: int(binary.BigEndian.Uint64(k)),
				Hash:  ethcmn.BytesToHash(v),
			})
			return nil
		})
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return nil, ErrClosed
	}
	return out, err
}

// Jobs lists the job keys present in the journal.
func (j *Journal) Jobs() ([]string, error) {
	var jobs []string
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			jobs = append(jobs, string(name))
			return nil
		})
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return nil, ErrClosed
	}
	return jobs, err
}

// Forget drops everything recorded for job.
func (j *Journal) Forget(job string) error {
	err := j.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(job))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Close closes the file; calling it again is a no-op.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		err = j.db.Close()
	})
	return err
}
