package memory_test

import (
	"testing"

	"github.com/aretw0/vellora/pkg/adapters/memory"
	"github.com/aretw0/vellora/pkg/ports"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStoreContract(t, store)
}
