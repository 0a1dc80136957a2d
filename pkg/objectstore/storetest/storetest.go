// Package storetest provides a shared conformance test suite run
// against every objectstore.Client backend, so memstore, badgerstore
// and s3store are all held to identical observable behavior.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubbit/nfsgrace/pkg/objectstore"
)

// Run exercises client against the full conformance suite. newClient
// must return a fresh, empty backend instance (or one whose state is
// otherwise isolated from other Run invocations) each time it is
// called, since the suite creates objects with fixed names.
func Run(t *testing.T, newClient func(t *testing.T) objectstore.Client) {
	t.Helper()

	t.Run("ReadMissingObjectIsNotFound", func(t *testing.T) { testReadMissing(t, newClient(t)) })
	t.Run("CreateExclusiveThenCreateExclusiveFails", func(t *testing.T) { testCreateExclusiveConflict(t, newClient(t)) })
	t.Run("CreateIdempotentIsIdempotent", func(t *testing.T) { testCreateIdempotent(t, newClient(t)) })
	t.Run("WriteWithoutCreateOnMissingObjectIsNotFound", func(t *testing.T) { testWriteMissing(t, newClient(t)) })
	t.Run("VersionMismatchOnStaleAssert", func(t *testing.T) { testVersionMismatch(t, newClient(t)) })
	t.Run("VersionAdvancesOnEverySuccessfulWrite", func(t *testing.T) { testVersionAdvances(t, newClient(t)) })
	t.Run("OmapSetAndRemoveRoundTrip", func(t *testing.T) { testOmapRoundTrip(t, newClient(t)) })
	t.Run("OmapLimitReportsMore", func(t *testing.T) { testOmapLimit(t, newClient(t)) })
	t.Run("OmapPrefixFiltersEntries", func(t *testing.T) { testOmapPrefix(t, newClient(t)) })
	t.Run("NotifyReachesActiveWatchersOnly", func(t *testing.T) { testNotifyWatch(t, newClient(t)) })
}

func testReadMissing(t *testing.T, c objectstore.Client) {
	_, err := c.Read(context.Background(), "does-not-exist", objectstore.ReadOptions{})
	require.Error(t, err)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrNotFound))
}

func testCreateExclusiveConflict(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateExclusive

	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode, Payload: []byte("a")}))

	err := c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode, Payload: []byte("b")})
	require.Error(t, err)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrAlreadyExists))
}

func testCreateIdempotent(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateIdempotent

	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode, Payload: []byte("a")}))
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode}))

	res, err := c.Read(ctx, "obj", objectstore.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), res.Payload)
}

func testWriteMissing(t *testing.T, c objectstore.Client) {
	err := c.Write(context.Background(), "obj", objectstore.WriteOp{Payload: []byte("a")})
	require.Error(t, err)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrNotFound))
}

func testVersionMismatch(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateExclusive
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode, Payload: []byte("a")}))

	res, err := c.Read(ctx, "obj", objectstore.ReadOptions{})
	require.NoError(t, err)

	// A concurrent writer advances the version first.
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Payload: []byte("b"), AssertVersion: res.Version}))

	// The original reader's stale version must now be rejected.
	err = c.Write(ctx, "obj", objectstore.WriteOp{Payload: []byte("c"), AssertVersion: res.Version})
	require.Error(t, err)
	assert.True(t, objectstore.IsCode(err, objectstore.ErrVersionMismatch))
}

func testVersionAdvances(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateExclusive
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode}))

	res1, err := c.Read(ctx, "obj", objectstore.ReadOptions{})
	require.NoError(t, err)

	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Payload: []byte("x"), AssertVersion: res1.Version}))

	res2, err := c.Read(ctx, "obj", objectstore.ReadOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, res1.Version.String(), res2.Version.String())
}

func testOmapRoundTrip(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateExclusive
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode}))

	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{
		OmapSet: []objectstore.Entry{{Key: "a", Value: []byte("1")}, {Key: "b", Value: []byte("2")}},
	}))

	res, err := c.Read(ctx, "obj", objectstore.ReadOptions{OmapLimit: 100})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.False(t, res.More)

	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{OmapRemove: []string{"a"}}))

	res, err = c.Read(ctx, "obj", objectstore.ReadOptions{OmapLimit: 100})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "b", res.Entries[0].Key)
}

func testOmapLimit(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateExclusive
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode}))

	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{OmapSet: []objectstore.Entry{
		{Key: "1", Value: []byte("a")},
		{Key: "2", Value: []byte("b")},
		{Key: "3", Value: []byte("c")},
	}}))

	res, err := c.Read(ctx, "obj", objectstore.ReadOptions{OmapLimit: 2})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2)
	assert.True(t, res.More)
}

func testOmapPrefix(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateExclusive
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode}))

	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{OmapSet: []objectstore.Entry{
		{Key: "node:1", Value: []byte("a")},
		{Key: "node:2", Value: []byte("b")},
		{Key: "other:1", Value: []byte("c")},
	}}))

	res, err := c.Read(ctx, "obj", objectstore.ReadOptions{OmapPrefix: "node:", OmapLimit: 100})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 2)
}

func testNotifyWatch(t *testing.T, c objectstore.Client) {
	ctx := context.Background()
	mode := objectstore.CreateExclusive
	require.NoError(t, c.Write(ctx, "obj", objectstore.WriteOp{Create: &mode}))

	fired := make(chan struct{}, 1)
	cancel, err := c.Watch(ctx, "obj", func(ack func()) {
		ack()
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, c.Notify(ctx, "obj"))

	// s3store's Notify/Watch are documented no-ops; backends that support
	// live notification must deliver within this call since Notify here
	// invokes callbacks synchronously.
	select {
	case <-fired:
	default:
		t.Skip("backend does not support live notification (documented no-op, e.g. s3store)")
	}

	cancel()

	// A cancelled watcher must not be reached by a later Notify.
	require.NoError(t, c.Notify(ctx, "obj"))
	select {
	case <-fired:
		t.Fatal("cancelled watcher was notified")
	default:
	}
}
