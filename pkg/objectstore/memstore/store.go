// Package memstore implements objectstore.Client entirely in process
// memory, modeled on the teacher's in-memory metadata store: a single
// sync.RWMutex guarding plain Go maps, favoring simplicity and
// correctness over throughput. Suitable for tests and as the default
// backend for cmd/graced when no remote store is configured.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cubbit/nfsgrace/pkg/objectstore"
)

// intVersion is memstore's Version: a monotonically increasing counter
// bumped on every successful write to an object.
type intVersion uint64

func (v intVersion) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

type object struct {
	payload []byte
	omap    map[string][]byte
	version intVersion
}

// Store is an in-memory objectstore.Client.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	watches map[string][]func(ack func())
}

// New creates an empty in-memory object store.
func New() *Store {
	return &Store{
		objects: make(map[string]*object),
		watches: make(map[string][]func(ack func())),
	}
}

func (s *Store) Read(_ context.Context, oid string, opts objectstore.ReadOptions) (*objectstore.ReadResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[oid]
	if !ok {
		return nil, objectstore.NewError(objectstore.ErrNotFound, oid, "object does not exist", nil)
	}

	result := &objectstore.ReadResult{
		Payload: append([]byte(nil), obj.payload...),
		Version: obj.version,
	}

	if opts.OmapLimit > 0 {
		entries, more := scanOmap(obj.omap, opts.OmapPrefix, opts.OmapLimit)
		result.Entries = entries
		result.More = more
	}

	return result, nil
}

func scanOmap(omap map[string][]byte, prefix string, limit int) ([]objectstore.Entry, bool) {
	// Deterministic ordering keeps tests reproducible; real omaps are
	// unordered per spec, so callers must not rely on this order.
	keys := make([]string, 0, len(omap))
	for k := range omap {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	more := len(keys) > limit
	if more {
		keys = keys[:limit]
	}

	entries := make([]objectstore.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, objectstore.Entry{Key: k, Value: append([]byte(nil), omap[k]...)})
	}
	return entries, more
}

func (s *Store) Write(_ context.Context, oid string, op objectstore.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, exists := s.objects[oid]

	if op.Create != nil {
		if exists {
			if *op.Create == objectstore.CreateExclusive {
				return objectstore.NewError(objectstore.ErrAlreadyExists, oid, "object already exists", nil)
			}
			// CreateIdempotent on an existing object: fall through to
			// apply the rest of the op against it.
		} else {
			obj = &object{omap: make(map[string][]byte)}
			s.objects[oid] = obj
			exists = true
		}
	}

	if !exists {
		return objectstore.NewError(objectstore.ErrNotFound, oid, "object does not exist", nil)
	}

	if op.AssertVersion != nil {
		want, ok := op.AssertVersion.(intVersion)
		if !ok || want != obj.version {
			return objectstore.NewError(objectstore.ErrVersionMismatch, oid, "version precondition failed", nil)
		}
	}

	if op.Payload != nil {
		obj.payload = append([]byte(nil), op.Payload...)
	}
	if op.OmapClear {
		obj.omap = make(map[string][]byte)
	}
	for _, e := range op.OmapSet {
		obj.omap[e.Key] = append([]byte(nil), e.Value...)
	}
	for _, k := range op.OmapRemove {
		delete(obj.omap, k)
	}

	obj.version++
	return nil
}

func (s *Store) Notify(_ context.Context, oid string) error {
	s.mu.RLock()
	cbs := append([]func(ack func()){}, s.watches[oid]...)
	s.mu.RUnlock()

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
		cbs := s.watches[oid]
		if idx < len(cbs) {
			cbs[idx] = func(func()) {}
		}
	}
	return cancel, nil
}
