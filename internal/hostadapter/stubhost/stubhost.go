// Package stubhost is a minimal in-process stand-in for a real NFS host
// server, existing purely so cmd/graced is runnable and testable
// end-to-end without one. It is NOT a recovery database and must not be
// mistaken for production client-record persistence: recovery databases
// are modeled as plain in-memory sets, and WakeReaper only logs.
package stubhost

import (
	"context"
	"sync"

	"github.com/cubbit/nfsgrace/internal/logger"
)

// Host is a toy implementation of hostadapter.Host backed by in-memory
// sets of client identifiers. It satisfies hostadapter.Host without
// importing it, keeping the dependency direction the same as the
// teacher's protocol adapters depending on store interfaces rather than
// the reverse.
type Host struct {
	mu   sync.Mutex
	dbs  map[string]map[string]struct{}
	clid int
}

// New returns an empty stub host.
func New() *Host {
	return &Host{dbs: make(map[string]map[string]struct{})}
}

// AddConfirmedClient registers a synthetic confirmed client, used by
// tests and demos to give CopyConfirmedClients something to copy.
func (h *Host) AddConfirmedClient(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clid++
	if h.dbs["__confirmed__"] == nil {
		h.dbs["__confirmed__"] = make(map[string]struct{})
	}
	h.dbs["__confirmed__"][id] = struct{}{}
}

// CopyConfirmedClients copies the confirmed-client set into a new
// recovery database named dst.
func (h *Host) CopyConfirmedClients(ctx context.Context, dst string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	confirmed := h.dbs["__confirmed__"]
	db := make(map[string]struct{}, len(confirmed))
	for id := range confirmed {
		db[id] = struct{}{}
	}
	h.dbs[dst] = db
	logger.Info("stubhost: copied %d confirmed clients into %s", len(db), dst)
	return nil
}

// RemoveRecoveryDB deletes the named recovery database, if present.
func (h *Host) RemoveRecoveryDB(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.dbs, name)
	logger.Info("stubhost: removed recovery db %s", name)
	return nil
}

// RecoveryDBSize returns the number of client records in the named
// recovery database, for tests. Returns -1 if the database is absent.
func (h *Host) RecoveryDBSize(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	db, ok := h.dbs[name]
	if !ok {
		return -1
	}
	return len(db)
}

// WakeReaper logs that the reaper would be woken. A real host would use
// this to re-check whether it can lift local enforcement.
func (h *Host) WakeReaper() {
	logger.Debug("stubhost: reaper woken")
}
