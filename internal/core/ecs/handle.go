package ecs

import (
	"fmt"

	"github.com/nodeforge/runtime/internal/core/ident"
)

// Handle references one arena slot. It resolves only while the slot is
// occupied and still carries Generation; a zero Handle never resolves
// because generations start at 1.
type Handle struct {
	ID         ident.UniqueID
	Index      uint32
	Generation uint32
}

func (h Handle) IsZero() bool { return h.Generation == 0 }

// Key packs index and generation the same way the runtime's integer ids
// are packed: generation in the upper 32 bits.
func (h Handle) Key() uint64 { return uint64(h.Generation)<<32 | uint64(h.Index) }

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d:%d %s)", h.Index, h.Generation, h.ID)
}
