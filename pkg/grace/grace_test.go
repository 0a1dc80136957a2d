package grace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubbit/nfsgrace/pkg/objectstore"
	"github.com/cubbit/nfsgrace/pkg/objectstore/memstore"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	store := memstore.New()
	engine := New(store, Config{})
	const oid = "grace"
	require.NoError(t, engine.Create(context.Background(), oid))
	return engine, oid
}

func TestCreateIsExclusive(t *testing.T) {
	engine, oid := newTestEngine(t)
	err := engine.Create(context.Background(), oid)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrPrecondition))
}

func TestSingleNodeBootNoGrace(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	ep, err := engine.Join(ctx, oid, "a", false)
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 1, R: 0}, ep)

	gotEp, entries, err := engine.Dump(ctx, oid)
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 1, R: 0}, gotEp)
	assert.Empty(t, entries)

	ep, err = engine.Done(ctx, oid, "a")
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 1, R: 0}, ep)
}

func TestAdminStartAndSingleNodeComplete(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	ep, err := engine.Start(ctx, oid, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 1}, ep)

	_, entries, err := engine.Dump(ctx, oid)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, NodeEntry{NodeID: "a", NeedGrace: true}, entries[0])

	ep, err = engine.Done(ctx, oid, "a")
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 0}, ep)

	_, entries, err = engine.Dump(ctx, oid)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTwoNodeGraceStaggeredCompletion(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	ep, err := engine.Start(ctx, oid, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 1}, ep)

	ep, err = engine.Done(ctx, oid, "a")
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 1}, ep)

	_, entries, err := engine.Dump(ctx, oid)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].NodeID)

	ep, err = engine.Done(ctx, oid, "b")
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 0}, ep)

	_, entries, err = engine.Dump(ctx, oid)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJoinDuringActiveGrace(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	ep, err := engine.Start(ctx, oid, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 1}, ep)

	ep, err = engine.Join(ctx, oid, "b", false)
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 1}, ep)

	_, entries, err := engine.Dump(ctx, oid)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	ep, err = engine.Done(ctx, oid, "a")
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 1}, ep, "grace stays active while b still needs it")

	ep, err = engine.Done(ctx, oid, "b")
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 0}, ep)
}

func TestConcurrentStartsMergeIntoOneEpoch(t *testing.T) {
	store := memstore.New()
	engine := New(store, Config{})
	ctx := context.Background()
	const oid = "grace"
	require.NoError(t, engine.Create(ctx, oid))

	var (
		wg         sync.WaitGroup
		epA, epB   Epochs
		errA, errB error
	)
	wg.Add(2)
	go func() { defer wg.Done(); epA, errA = engine.Start(ctx, oid, []string{"a"}) }()
	go func() { defer wg.Done(); epB, errB = engine.Start(ctx, oid, []string{"b"}) }()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)

	assert.Equal(t, Epochs{C: 2, R: 1}, epA)
	assert.Equal(t, Epochs{C: 2, R: 1}, epB)

	ep, entries, err := engine.Dump(ctx, oid)
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 2, R: 1}, ep)
	assert.Len(t, entries, 2)
}

func TestCorruptionDetectionOnTruncatedPayload(t *testing.T) {
	store := memstore.New()
	engine := New(store, Config{})
	ctx := context.Background()
	const oid = "grace"
	require.NoError(t, engine.Create(ctx, oid))

	res, err := store.Read(ctx, oid, objectstore.ReadOptions{})
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, oid, objectstore.WriteOp{
		Payload:       res.Payload[:8],
		AssertVersion: res.Version,
	}))

	_, err = engine.Epochs(ctx, oid)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCorruption))
}

func TestLiftRemovesKeyWhenNoFlagsRemain(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Start(ctx, oid, []string{"a"})
	require.NoError(t, err)

	_, err = engine.Lift(ctx, oid, []string{"a"})
	require.NoError(t, err)

	_, entries, err := engine.Dump(ctx, oid)
	require.NoError(t, err)
	assert.Empty(t, entries, "node-map key is removed, not merely cleared, once no flags remain")
}

func TestLiftPreservesEntryWithRemainingFlags(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Start(ctx, oid, []string{"a"})
	require.NoError(t, err)
	_, err = engine.EnforcingOn(ctx, oid, "a")
	require.NoError(t, err)

	_, err = engine.Lift(ctx, oid, []string{"a"})
	require.NoError(t, err)

	_, entries, err := engine.Dump(ctx, oid)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].NeedGrace)
	assert.True(t, entries[0].Enforcing, "E flag survives lift since it is still meaningful")
}

func TestDoneOnAbsentNodeIsNoOp(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	ep, err := engine.Done(ctx, oid, "ghost")
	require.NoError(t, err)
	assert.Equal(t, Epochs{C: 1, R: 0}, ep)
}

func TestMemberAndEnforcingChecks(t *testing.T) {
	engine, oid := newTestEngine(t)
	ctx := context.Background()

	isMember, err := engine.Member(ctx, oid, "a")
	require.NoError(t, err)
	assert.False(t, isMember)

	enforcing, err := engine.EnforcingCheck(ctx, oid, "a")
	require.NoError(t, err)
	assert.False(t, enforcing)

	_, err = engine.EnforcingOn(ctx, oid, "a")
	require.NoError(t, err)

	enforcing, err = engine.EnforcingCheck(ctx, oid, "a")
	require.NoError(t, err)
	assert.True(t, enforcing)

	_, err = engine.EnforcingOff(ctx, oid, "a")
	require.NoError(t, err)

	enforcing, err = engine.EnforcingCheck(ctx, oid, "a")
	require.NoError(t, err)
	assert.False(t, enforcing)
}

func TestEpochsPayloadRoundTrip(t *testing.T) {
	e := epochs{C: 42, R: 17}
	got, err := decodeEpochs(encodeEpochs(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestNodeFlagsRoundTrip(t *testing.T) {
	f := nodeFlags{Member: true, Enforcing: false, NeedGrace: true}
	got := decodeNodeFlags(encodeNodeFlags(f))
	assert.Equal(t, f, got)
}

func TestNodeMapCapExceededIsCorruption(t *testing.T) {
	store := memstore.New()
	engine := New(store, Config{NodeMapCap: 2})
	ctx := context.Background()
	const oid = "grace"
	require.NoError(t, engine.Create(ctx, oid))

	_, err := engine.Start(ctx, oid, []string{"a", "b", "c"})
	require.NoError(t, err)

	_, _, err = engine.Dump(ctx, oid)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCorruption))
}
