package dispatch

import (
	"sync"

	ethcmn "github.com/ethereum/go-ethereum/common"
)

// SenderLocks serialises work per sending account. Dispatchers that share a key must
// share the same SenderLocks.
type SenderLocks struct {
	mu    sync.Mutex
	locks map[ethcmn.Address]*sync.Mutex
}

func NewSenderLocks() *SenderLocks {
	return &SenderLocks{locks: make(map[ethcmn.Address]*sync.Mutex)}
}

// Lock blocks until addr is free and returns the matching unlock.
func (l *SenderLocks) Lock(addr ethcmn.Address) func() {
	l.mu.Lock()
	m, ok := l.locks[addr]
	if !ok {
		m = new(sync.Mutex)
		l.locks[addr] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// processLocks is used by dispatchers built without their own SenderLocks.
var processLocks = NewSenderLocks()
