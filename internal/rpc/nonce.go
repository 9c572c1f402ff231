package rpc

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// nonceTracker hands out nonces per sender so that transfers signed from the
// same account in one block do not collide on the node's pending nonce.
type nonceTracker struct {
	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
	last  map[common.Address]uint64
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{
		locks: make(map[common.Address]*sync.Mutex),
		last:  make(map[common.Address]uint64),
	}
}

// lock serializes signing for one sender and returns the unlock func.
func (n *nonceTracker) lock(addr common.Address) func() {
	n.mu.Lock()
	l, ok := n.locks[addr]
	if !ok {
		l = new(sync.Mutex)
		n.locks[addr] = l
	}
	n.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// next returns the node's pending nonce unless a higher one was already used.
func (n *nonceTracker) next(addr common.Address, pending uint64) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.last[addr]; ok && last >= pending {
		return last + 1
	}
	return pending
}

func (n *nonceTracker) commit(addr common.Address, nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last[addr] = nonce
}

// reset falls back to the node's pending nonce for the sender.
func (n *nonceTracker) reset(addr common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.last, addr)
}
