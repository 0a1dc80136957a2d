// Package hostadapter binds pkg/grace's protocol calls to an NFS host
// server's lifecycle phases, the way the teacher's pkg/adapter binds
// protocol adapters to the metadata and content stores. The actual NFS
// host server, client-record persistence and reaper are external
// collaborators; Host is the seam the real server implements.
package hostadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/cubbit/nfsgrace/internal/logger"
	"github.com/cubbit/nfsgrace/pkg/grace"
	"github.com/cubbit/nfsgrace/pkg/objectstore"
)

// Host is implemented by the real NFS server. It exposes exactly the
// hooks the grace adapter needs to drive recovery-database lifecycle
// and reaper wakeups; it knows nothing about the grace object itself.
type Host interface {
	// CopyConfirmedClients copies the host's currently-confirmed client
	// records into the recovery database named dst, at the start of a
	// new grace epoch.
	CopyConfirmedClients(ctx context.Context, dst string) error

	// RemoveRecoveryDB deletes the recovery database named name. Called
	// once the epoch it belongs to is no longer reachable for reclaim.
	RemoveRecoveryDB(ctx context.Context, name string) error

	// WakeReaper is called after a notify is acknowledged, so the host
	// can re-check whether grace has been lifted.
	WakeReaper()
}

// RecoveryDBName returns the recovery-database name for the given
// epoch and nodeid, following the "rec-<epoch>:<nodeid>" convention
// carried over from the clustered recovery backend this adapter
// replaces.
func RecoveryDBName(epoch uint64, nodeid string) string {
	return fmt.Sprintf("rec-%d:%s", epoch, nodeid)
}

// RecoveryDBs is the pair of recovery-database names exposed to the
// host by ReadClids: New is always populated, Old is only valid during
// an active, reclaim-eligible grace period.
type RecoveryDBs struct {
	New    string
	Old    string
	HasOld bool
}

// Adapter binds a grace.Engine to a Host for a single grace object and
// nodeid.
type Adapter struct {
	engine *grace.Engine
	host   Host
	store  objectstore.Client
	oid    string
	nodeid string

	shutdownOnce sync.Once
	unwatch      func()
}

// New constructs an Adapter. Call Init before using it.
func New(engine *grace.Engine, store objectstore.Client, host Host, oid, nodeid string) *Adapter {
	return &Adapter{
		engine: engine,
		host:   host,
		store:  store,
		oid:    oid,
		nodeid: nodeid,
	}
}

// Init connects the adapter to the cluster: it ensures the grace object
// exists, confirms the node is a member, and installs a watch whose
// callback acknowledges the notify and wakes the host's reaper.
func (a *Adapter) Init(ctx context.Context) error {
	if err := a.engine.Create(ctx, a.oid); err != nil && !grace.IsCode(err, grace.ErrPrecondition) {
		return fmt.Errorf("hostadapter: create grace object: %w", err)
	}

	isMember, err := a.engine.Member(ctx, a.oid, a.nodeid)
	if err != nil {
		return fmt.Errorf("hostadapter: member check: %w", err)
	}
	if !isMember {
		logger.Warn("node %q is not a recognized cluster member", a.nodeid)
	}

	cancel, err := a.store.Watch(ctx, a.oid, func(ack func()) {
		ack()
		a.host.WakeReaper()
	})
	if err != nil {
		logger.Warn("failed to install grace watch: %v", err)
		return nil
	}
	a.unwatch = cancel
	return nil
}

// ReadClids joins the cluster's current grace epoch and returns the
// recovery-database names the host should use.
func (a *Adapter) ReadClids(ctx context.Context, force bool) (RecoveryDBs, error) {
	ep, err := a.engine.Join(ctx, a.oid, a.nodeid, force)
	if err != nil {
		return RecoveryDBs{}, fmt.Errorf("hostadapter: join: %w", err)
	}

	dbs := RecoveryDBs{New: RecoveryDBName(ep.C, a.nodeid)}
	if ep.R > 0 {
		dbs.Old = RecoveryDBName(ep.R, a.nodeid)
		dbs.HasOld = true
	}
	return dbs, nil
}

// MaybeStartGrace is called on notify. If the cluster has an active,
// reclaim-eligible grace period and this node has not yet entered
// local grace for the current epoch, it copies confirmed clients into
// the new recovery database.
func (a *Adapter) MaybeStartGrace(ctx context.Context, alreadyInGrace func(epoch uint64) bool) error {
	ep, err := a.engine.Epochs(ctx, a.oid)
	if err != nil {
		return fmt.Errorf("hostadapter: epochs: %w", err)
	}
	if ep.R == 0 || alreadyInGrace(ep.C) {
		return nil
	}

	dst := RecoveryDBName(ep.C, a.nodeid)
	if err := a.host.CopyConfirmedClients(ctx, dst); err != nil {
		return fmt.Errorf("hostadapter: copy confirmed clients into %s: %w", dst, err)
	}
	return nil
}

// SetEnforcing is a thin pass-through to the engine's enforcing_on.
func (a *Adapter) SetEnforcing(ctx context.Context) error {
	_, err := a.engine.EnforcingOn(ctx, a.oid, a.nodeid)
	if err != nil {
		return fmt.Errorf("hostadapter: set enforcing: %w", err)
	}
	return nil
}

// GraceEnforcing is a thin pass-through to the engine's enforcing_check.
func (a *Adapter) GraceEnforcing(ctx context.Context) (bool, error) {
	enforcing, err := a.engine.EnforcingCheck(ctx, a.oid, a.nodeid)
	if err != nil {
		return false, fmt.Errorf("hostadapter: enforcing check: %w", err)
	}
	return enforcing, nil
}

// TryLiftGrace calls done for this node and reports whether grace has
// been lifted cluster-wide.
func (a *Adapter) TryLiftGrace(ctx context.Context) (bool, error) {
	ep, err := a.engine.Done(ctx, a.oid, a.nodeid)
	if err != nil {
		return false, fmt.Errorf("hostadapter: done: %w", err)
	}
	return ep.R == 0, nil
}

// EndGrace clears this node's enforcing flag and removes the old
// recovery database it reclaimed from.
func (a *Adapter) EndGrace(ctx context.Context, oldEpoch uint64) error {
	if _, err := a.engine.EnforcingOff(ctx, a.oid, a.nodeid); err != nil {
		return fmt.Errorf("hostadapter: enforcing off: %w", err)
	}
	if oldEpoch == 0 {
		return nil
	}
	name := RecoveryDBName(oldEpoch, a.nodeid)
	if err := a.host.RemoveRecoveryDB(ctx, name); err != nil {
		return fmt.Errorf("hostadapter: remove recovery db %s: %w", name, err)
	}
	return nil
}

// IsMember reports whether this node is a recognized cluster member.
func (a *Adapter) IsMember(ctx context.Context) (bool, error) {
	isMember, err := a.engine.Member(ctx, a.oid, a.nodeid)
	if err != nil {
		return false, fmt.Errorf("hostadapter: member check: %w", err)
	}
	return isMember, nil
}

// Shutdown best-effort marks intent to rejoin on restart and uninstalls
// the watch. It does not close or disconnect the object-store client.
// Safe to call multiple times.
func (a *Adapter) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() {
		if _, err := a.engine.Join(ctx, a.oid, a.nodeid, true); err != nil {
			logger.Warn("shutdown: best-effort rejoin failed: %v", err)
		}
		if a.unwatch != nil {
			a.unwatch()
		}
	})
}
