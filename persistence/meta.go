// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package persistence

import (
	"encoding/binary"
	"time"

	"github.com/molecula/objectdb/errors"
	bolt "go.etcd.io/bbolt"
)

// MetaFileName is the name of the metadata database inside the data
// directory.
const MetaFileName = "meta.db"

var (
	metaBucket = []byte("meta")

	keyNextLogSeq = []byte("next-log-seq")
	keyLastTS     = []byte("last-ts")
)

// MetaStore holds the counters that must survive a restart but are not
// implied by the log records themselves.
type MetaStore struct {
	db *bolt.DB
}

// OpenMetaStore opens, creating if necessary, the metadata database at path.
func OpenMetaStore(path string) (*MetaStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening meta store %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating meta bucket")
	}
	return &MetaStore{db: db}, nil
}

func (m *MetaStore) get(key []byte) (uint64, error) {
	var v uint64
	err := m.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(metaBucket).Get(key); len(b) == 8 {
			v = binary.BigEndian.Uint64(b)
		}
		return nil
	})
	return v, err
}

func (m *MetaStore) put(key []byte, v uint64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		return tx.Bucket(metaBucket).Put(key, b[:])
	})
}

// NextLogSeq returns the sequence number to use for the next log file.
func (m *MetaStore) NextLogSeq() (uint64, error) { return m.get(keyNextLogSeq) }

func (m *MetaStore) SetNextLogSeq(seq uint64) error { return m.put(keyNextLogSeq, seq) }

// LastTimestamp returns the last transaction timestamp recorded at shutdown.
func (m *MetaStore) LastTimestamp() (uint64, error) { return m.get(keyLastTS) }

func (m *MetaStore) SetLastTimestamp(ts uint64) error { return m.put(keyLastTS, ts) }

func (m *MetaStore) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	defer func() { m.db = nil }()
	return m.db.Close()
}
