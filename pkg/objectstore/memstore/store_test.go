package memstore

import (
	"testing"

	"github.com/cubbit/nfsgrace/pkg/objectstore"
	"github.com/cubbit/nfsgrace/pkg/objectstore/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) objectstore.Client {
		return New()
	})
}
