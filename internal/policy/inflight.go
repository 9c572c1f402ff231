package policy

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Inflight marks accounts that have an unconfirmed transfer. A nil *Inflight
// disables the check.
type Inflight struct {
	mu  sync.Mutex
	set map[common.Address]struct{}
}

func NewInflight() *Inflight {
	return &Inflight{set: make(map[common.Address]struct{})}
}

// Acquire marks addr busy. It returns false if it already was.
func (f *Inflight) Acquire(addr common.Address) bool {
	if f == nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.set[addr]; busy {
		return false
	}
	f.set[addr] = struct{}{}
	return true
}

func (f *Inflight) Release(addr common.Address) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.set, addr)
}

func (f *Inflight) Busy(addr common.Address) bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, busy := f.set[addr]
	return busy
}
