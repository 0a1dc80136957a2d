// Package badgerstore implements objectstore.Client on a local BadgerDB
// database, for durable single-node deployments and for conformance
// testing. Modeled on the teacher's badger-backed metadata store
// (prefixed key namespace, db.Update/db.View transactions).
//
// Key namespace, one grace object "oid" maps to:
//
//	p:<oid>           payload bytes, version-prefixed (8-byte BE counter || payload)
//	o:<oid>:<key>     one node-map entry's value blob
//
// Badger's own transaction conflict detection (ErrConflict) already
// serializes concurrent writers on overlapping keys; the version counter
// embedded in the payload key additionally lets Read/Write present the
// same assert_version contract the other backends use, so pkg/grace's
// retry loop is backend-agnostic.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cubbit/nfsgrace/pkg/objectstore"
)

type intVersion uint64

func (v intVersion) String() string { return strconv.FormatUint(uint64(v), 10) }

// Store is a BadgerDB-backed objectstore.Client.
type Store struct {
	db *badger.DB

	mu      sync.Mutex
	watches map[string][]func(ack func())
}

// Config configures Store construction.
type Config struct {
	// Dir is the BadgerDB data directory.
	Dir string
	// InMemory runs Badger without persisting to disk (useful for tests).
	InMemory bool
}

// Open creates or opens the BadgerDB database backing a Store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.InMemory = cfg.InMemory
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, objectstore.NewError(objectstore.ErrTransport, "", "failed to open badger database", err)
	}

	return &Store{db: db, watches: make(map[string][]func(ack func()))}, nil
}

// Close releases the underlying BadgerDB handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func payloadKey(oid string) []byte { return []byte("p:" + oid) }

func omapPrefix(oid string) string { return "o:" + oid + ":" }

func omapKey(oid, key string) []byte { return []byte(omapPrefix(oid) + key) }

func encodePayloadRecord(version uint64, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[:8], version)
	copy(buf[8:], payload)
	return buf
}

func decodePayloadRecord(raw []byte) (uint64, []byte) {
	if len(raw) < 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw[:8]), append([]byte(nil), raw[8:]...)
}

func (s *Store) Read(_ context.Context, oid string, opts objectstore.ReadOptions) (*objectstore.ReadResult, error) {
	result := &objectstore.ReadResult{}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(payloadKey(oid))
		if err == badger.ErrKeyNotFound {
			return objectstore.NewError(objectstore.ErrNotFound, oid, "object does not exist", nil)
		}
		if err != nil {
			return objectstore.NewError(objectstore.ErrTransport, oid, "badger read failed", err)
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return objectstore.NewError(objectstore.ErrTransport, oid, "badger value copy failed", err)
		}
		version, payload := decodePayloadRecord(raw)
		result.Payload = payload
		result.Version = intVersion(version)

		if opts.OmapLimit > 0 {
			entries, more := scanOmap(txn, oid, opts.OmapPrefix, opts.OmapLimit)
			result.Entries = entries
			result.More = more
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scanOmap(txn *badger.Txn, oid, prefix string, limit int) ([]objectstore.Entry, bool) {
	fullPrefix := []byte(omapPrefix(oid) + prefix)

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var entries []objectstore.Entry
	more := false
	base := omapPrefix(oid)

	for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
		if len(entries) >= limit {
			more = true
			break
		}
		item := it.Item()
		key := strings.TrimPrefix(string(item.KeyCopy(nil)), base)
		val, _ := item.ValueCopy(nil)
		entries = append(entries, objectstore.Entry{Key: key, Value: val})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, more
}

func (s *Store) Write(_ context.Context, oid string, op objectstore.WriteOp) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(payloadKey(oid))
		exists := err == nil
		if err != nil && err != badger.ErrKeyNotFound {
			return objectstore.NewError(objectstore.ErrTransport, oid, "badger read failed", err)
		}

		var version uint64
		if exists {
			raw, verr := item.ValueCopy(nil)
			if verr != nil {
				return objectstore.NewError(objectstore.ErrTransport, oid, "badger value copy failed", verr)
			}
			version, _ = decodePayloadRecord(raw)
		}

		if op.Create != nil {
			if exists && *op.Create == objectstore.CreateExclusive {
				return objectstore.NewError(objectstore.ErrAlreadyExists, oid, "object already exists", nil)
			}
			if !exists {
				if err := txn.Set(payloadKey(oid), encodePayloadRecord(0, nil)); err != nil {
					return objectstore.NewError(objectstore.ErrTransport, oid, "badger create failed", err)
				}
				exists = true
				version = 0
			}
		}

		if !exists {
			return objectstore.NewError(objectstore.ErrNotFound, oid, "object does not exist", nil)
		}

		if op.AssertVersion != nil {
			want, ok := op.AssertVersion.(intVersion)
			if !ok || uint64(want) != version {
				return objectstore.NewError(objectstore.ErrVersionMismatch, oid, "version precondition failed", nil)
			}
		}

		if op.OmapClear {
			if err := clearOmap(txn, oid); err != nil {
				return err
			}
		}
		for _, rm := range op.OmapRemove {
			if err := txn.Delete(omapKey(oid, rm)); err != nil {
				return objectstore.NewError(objectstore.ErrTransport, oid, "badger omap delete failed", err)
			}
		}
		for _, e := range op.OmapSet {
			if err := txn.Set(omapKey(oid, e.Key), e.Value); err != nil {
				return objectstore.NewError(objectstore.ErrTransport, oid, "badger omap set failed", err)
			}
		}

		payload := op.Payload
		if payload == nil {
			_, payload = decodePayloadRecordFromTxn(txn, oid)
		}
		if err := txn.Set(payloadKey(oid), encodePayloadRecord(version+1, payload)); err != nil {
			return objectstore.NewError(objectstore.ErrTransport, oid, "badger write failed", err)
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction committed first: report it like a
		// stale AssertVersion so callers re-read and retry.
		return objectstore.NewError(objectstore.ErrVersionMismatch, oid, "concurrent write conflict", err)
	}
	return err
}

func decodePayloadRecordFromTxn(txn *badger.Txn, oid string) (uint64, []byte) {
	item, err := txn.Get(payloadKey(oid))
	if err != nil {
		return 0, nil
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, nil
	}
	return decodePayloadRecord(raw)
}

func clearOmap(txn *badger.Txn, oid string) error {
	prefix := []byte(omapPrefix(oid))
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return objectstore.NewError(objectstore.ErrTransport, oid, "badger omap clear failed", err)
		}
	}
	return nil
}

func (s *Store) Notify(_ context.Context, oid string) error {
	s.mu.Lock()
	cbs := append([]func(ack func()){}, s.watches[oid]...)
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(func() {})
	}
	return nil
}

// Watch has no underlying ack protocol to satisfy; cb's ack is a no-op.
func (s *Store) Watch(_ context.Context, oid string, cb func(ack func())) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watches[oid] = append(s.watches[oid], cb)
	idx := len(s.watches[oid]) - 1

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cbs := s.watches[oid]; idx < len(cbs) {
			cbs[idx] = func(func()) {}
		}
	}
	return cancel, nil
}
