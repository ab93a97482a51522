package store_test

import (
	"testing"

	"github.com/AdeAdecodes/short/internal/store"
	"github.com/AdeAdecodes/short/internal/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemory() })
}
