package dispatch

import (
	"context"
	"fmt"
	"sync"

	ethcmn "github.com/ethereum/go-ethereum/common"
)

// NonceSource hands out the next unused nonce of the sending account.
type NonceSource interface {
	NextNonce(ctx context.Context) (uint64, error)
}

// NonceCommitter is implemented by sources that must learn which nonce was accepted.
type NonceCommitter interface {
	Commit(nonce uint64)
}

// NonceReader is satisfied by ethclient.Client.
type NonceReader interface {
	PendingNonceAt(ctx context.Context, account ethcmn.Address) (uint64, error)
}

// PendingNonceSource asks the node for the pending transaction count every time.
type PendingNonceSource struct {
	client  NonceReader
	account ethcmn.Address
}

func NewPendingNonceSource(client NonceReader, account ethcmn.Address) *PendingNonceSource {
	return &PendingNonceSource{client: client, account: account}
}

func (s *PendingNonceSource) NextNonce(ctx context.Context) (uint64, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.account)
	if err != nil {
		return 0, fmt.Errorf("query pending nonce of %s: %w", s.account, classify(err))
	}
	return nonce, nil
}

// CounterNonceSource reads the pending count once and counts up in process from there.
// It only moves past a nonce once that nonce has been committed.
type CounterNonceSource struct {
	client  NonceReader
	account ethcmn.Address

	mu     sync.Mutex
	seeded bool
	next   uint64
}

func NewCounterNonceSource(client NonceReader, account ethcmn.Address) *CounterNonceSource {
	return &CounterNonceSource{client: client, account: account}
}

func (s *CounterNonceSource) NextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		nonce, err := s.client.PendingNonceAt(ctx, s.account)
		if err != nil {
			return 0, fmt.Errorf("query pending nonce of %s: %w", s.account, classify(err))
		}
		s.next = nonce
		s.seeded = true
	}
	return s.next, nil
}

func (s *CounterNonceSource) Commit(nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nonce >= s.next {
		s.next = nonce + 1
	}
}
