// Copyright (c) 2026 The Darksend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package lockdb persists completed transaction locks and the mixing rounds
// counters of wallet outputs in a leveldb database.
//
// Keys are namespaced by a prefix:
//
//	lock/<txhash>          -> created time, lock inputs
//	rounds/<outpoint>      -> rounds counter
package lockdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const dbName = "locks.ldb"

var (
	lockPrefix   = []byte("lock/")
	roundsPrefix = []byte("rounds/")
)

// outPointSize is the serialized size of an outpoint: hash, index and tree.
const outPointSize = chainhash.HashSize + 4 + 1

// Lock is the persisted form of a completed transaction lock.
type Lock struct {
	TxHash  chainhash.Hash
	Inputs  []wire.OutPoint
	Created time.Time
}

// DB is a lock and rounds database.  It is safe for concurrent access.
type DB struct {
	ldb *leveldb.DB
}

// Open opens (or creates) the database in dataDir.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, dbName)
	_, err := os.Stat(dbPath)
	dbExists := err == nil
	if !dbExists {
		// The error can be ignored here since leveldb.OpenFile will fail
		// if the directory couldn't be created.
		_ = os.MkdirAll(dataDir, 0700)
	}

	log.Infof("Loading lock database from '%s'", dbPath)
	opts := opt.Options{
		ErrorIfExist: !dbExists,
		Strict:       opt.DefaultStrict,
		Compression:  opt.NoCompression,
		Filter:       filter.NewBloomFilter(10),
	}
	ldb, err := leveldb.OpenFile(dbPath, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock database: %w", err)
	}
	return &DB{ldb: ldb}, nil
}

// OpenMem opens a database held in memory.
func OpenMem() (*DB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.ldb.Close()
}

func lockKey(hash *chainhash.Hash) []byte {
	key := make([]byte, 0, len(lockPrefix)+chainhash.HashSize)
	key = append(key, lockPrefix...)
	return append(key, hash[:]...)
}

func roundsKey(op *wire.OutPoint) []byte {
	key := make([]byte, 0, len(roundsPrefix)+outPointSize)
	key = append(key, roundsPrefix...)
	return putOutPoint(key, op)
}

func putOutPoint(b []byte, op *wire.OutPoint) []byte {
	b = append(b, op.Hash[:]...)
	b = binary.LittleEndian.AppendUint32(b, op.Index)
	return append(b, byte(op.Tree))
}

func readOutPoint(b []byte) wire.OutPoint {
	var op wire.OutPoint
	copy(op.Hash[:], b[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(b[chainhash.HashSize:])
	op.Tree = int8(b[chainhash.HashSize+4])
	return op
}

func serializeLock(l *Lock) ([]byte, error) {
	var buf bytes.Buffer
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(l.Created.Unix()))
	buf.Write(ts[:])
	if err := wire.WriteVarInt(&buf, 0, uint64(len(l.Inputs))); err != nil {
		return nil, err
	}
	b := make([]byte, 0, outPointSize)
	for i := range l.Inputs {
		buf.Write(putOutPoint(b[:0], &l.Inputs[i]))
	}
	return buf.Bytes(), nil
}

var errCorrupt = errors.New("corrupt lock record")

func deserializeLock(hash []byte, v []byte) (*Lock, error) {
	if len(v) < 8 {
		return nil, errCorrupt
	}
	l := &Lock{
		Created: time.Unix(int64(binary.LittleEndian.Uint64(v)), 0),
	}
	copy(l.TxHash[:], hash)
	r := bytes.NewReader(v[8:])
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if uint64(r.Len()) != n*outPointSize {
		return nil, errCorrupt
	}
	rest := v[len(v)-r.Len():]
	l.Inputs = make([]wire.OutPoint, n)
	for i := range l.Inputs {
		l.Inputs[i] = readOutPoint(rest[i*outPointSize:])
	}
	return l, nil
}

// PutLock stores a completed lock.
func (db *DB) PutLock(l *Lock) error {
	v, err := serializeLock(l)
	if err != nil {
		return err
	}
	return db.ldb.Put(lockKey(&l.TxHash), v, nil)
}

// DeleteLock removes the lock of a transaction.  Deleting a missing lock is
// not an error.
func (db *DB) DeleteLock(hash chainhash.Hash) error {
	return db.ldb.Delete(lockKey(&hash), nil)
}

// FetchLock returns the lock of a transaction, or nil when there is none.
func (db *DB) FetchLock(hash chainhash.Hash) (*Lock, error) {
	v, err := db.ldb.Get(lockKey(&hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeLock(hash[:], v)
}

// Locks returns every stored lock.
func (db *DB) Locks() ([]*Lock, error) {
	iter := db.ldb.NewIterator(util.BytesPrefix(lockPrefix), nil)
	defer iter.Release()

	var locks []*Lock
	for iter.Next() {
		key := iter.Key()[len(lockPrefix):]
		if len(key) != chainhash.HashSize {
			return nil, errCorrupt
		}
		l, err := deserializeLock(key, iter.Value())
		if err != nil {
			return nil, fmt.Errorf("lock %x: %w", key, err)
		}
		locks = append(locks, l)
	}
	return locks, iter.Error()
}

// PutRounds records the mixing rounds counter of an output.
func (db *DB) PutRounds(op wire.OutPoint, rounds int) error {
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], uint32(rounds))
	return db.ldb.Put(roundsKey(&op), v[:], nil)
}

// DeleteRounds removes the rounds counter of a spent output.
func (db *DB) DeleteRounds(op wire.OutPoint) error {
	return db.ldb.Delete(roundsKey(&op), nil)
}

// ForEachRounds calls fn with every recorded rounds counter.
func (db *DB) ForEachRounds(fn func(op wire.OutPoint, rounds int)) error {
	iter := db.ldb.NewIterator(util.BytesPrefix(roundsPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		key := iter.Key()[len(roundsPrefix):]
		v := iter.Value()
		if len(key) != outPointSize || len(v) != 4 {
			return fmt.Errorf("corrupt rounds record %x", key)
		}
		fn(readOutPoint(key), int(binary.LittleEndian.Uint32(v)))
	}
	return iter.Error()
}
