package hostadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubbit/nfsgrace/internal/hostadapter/stubhost"
	"github.com/cubbit/nfsgrace/pkg/grace"
	"github.com/cubbit/nfsgrace/pkg/objectstore/memstore"
)

func newTestAdapter(t *testing.T) (*Adapter, *stubhost.Host) {
	t.Helper()
	store := memstore.New()
	engine := grace.New(store, grace.Config{})
	host := stubhost.New()
	a := New(engine, store, host, "grace", "node-a")
	require.NoError(t, a.Init(context.Background()))
	return a, host
}

func TestInitCreatesObjectAndTolerantOfExisting(t *testing.T) {
	a, _ := newTestAdapter(t)
	require.NoError(t, a.Init(context.Background()))
}

func TestReadClidsNoGraceHasNoOldDB(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	dbs, err := a.ReadClids(ctx, false)
	require.NoError(t, err)
	assert.False(t, dbs.HasOld)
	assert.Equal(t, RecoveryDBName(1, "node-a"), dbs.New)
}

func TestMaybeStartGraceCopiesConfirmedClients(t *testing.T) {
	store := memstore.New()
	engine := grace.New(store, grace.Config{})
	host := stubhost.New()
	a := New(engine, store, host, "grace", "node-a")
	ctx := context.Background()
	require.NoError(t, a.Init(ctx))

	host.AddConfirmedClient("client-1")
	host.AddConfirmedClient("client-2")

	_, err := engine.Start(ctx, "grace", []string{"node-a"})
	require.NoError(t, err)

	entered := false
	err = a.MaybeStartGrace(ctx, func(epoch uint64) bool { return entered })
	require.NoError(t, err)

	assert.Equal(t, 2, host.RecoveryDBSize(RecoveryDBName(2, "node-a")))
}

func TestMaybeStartGraceSkipsWhenNoActiveGrace(t *testing.T) {
	a, host := newTestAdapter(t)
	ctx := context.Background()

	err := a.MaybeStartGrace(ctx, func(uint64) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, -1, host.RecoveryDBSize(RecoveryDBName(1, "node-a")))
}

func TestTryLiftGraceReportsClusterWideLift(t *testing.T) {
	store := memstore.New()
	engine := grace.New(store, grace.Config{})
	host := stubhost.New()
	a := New(engine, store, host, "grace", "node-a")
	ctx := context.Background()
	require.NoError(t, a.Init(ctx))

	_, err := engine.Start(ctx, "grace", []string{"node-a", "node-b"})
	require.NoError(t, err)

	lifted, err := a.TryLiftGrace(ctx)
	require.NoError(t, err)
	assert.False(t, lifted, "node-b still needs grace")

	_, err = engine.Done(ctx, "grace", "node-b")
	require.NoError(t, err)

	ep, err := engine.Epochs(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ep.R)
}

func TestEndGraceRemovesOldRecoveryDB(t *testing.T) {
	a, host := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, host.CopyConfirmedClients(ctx, RecoveryDBName(1, "node-a")))
	require.NoError(t, a.SetEnforcing(ctx))

	enforcing, err := a.GraceEnforcing(ctx)
	require.NoError(t, err)
	assert.True(t, enforcing)

	require.NoError(t, a.EndGrace(ctx, 1))
	assert.Equal(t, -1, host.RecoveryDBSize(RecoveryDBName(1, "node-a")))

	enforcing, err = a.GraceEnforcing(ctx)
	require.NoError(t, err)
	assert.False(t, enforcing)
}

func TestIsMemberIsExternallyManaged(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	// Membership is set by an external admin action, not by join/start,
	// so joining the cluster does not by itself grant membership.
	isMember, err := a.IsMember(ctx)
	require.NoError(t, err)
	assert.False(t, isMember)

	_, err = a.ReadClids(ctx, false)
	require.NoError(t, err)

	isMember, err = a.IsMember(ctx)
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	a.Shutdown(ctx)
	a.Shutdown(ctx)
}
