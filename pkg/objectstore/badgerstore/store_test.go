package badgerstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubbit/nfsgrace/pkg/objectstore"
	"github.com/cubbit/nfsgrace/pkg/objectstore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) objectstore.Client {
		store, err := Open(Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
