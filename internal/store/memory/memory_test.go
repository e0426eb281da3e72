package memory

import (
	"testing"

	"github.com/dumplingcafe/research/internal/store"
	"github.com/dumplingcafe/research/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.TaskStore { return New() })
}
