package dispatch

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/okx/ethcards/contracts"
	"github.com/okx/ethcards/units"
)

var testChainID = big.NewInt(1337)

// rpcError mimics a JSON-RPC error object returned by a node.
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

// fakeNode accepts transactions into a pending pool and derives the pending nonce
// from how many it accepted, like a real node would.
type fakeNode struct {
	mu           sync.Mutex
	base         uint64
	accepted     []*types.Transaction
	attempts     []*types.Transaction
	nonceQueries int
	// sendErr, when set, decides the outcome of submission attempt n (0-based).
	sendErr func(n int, tx *types.Transaction) error

	receipts      map[ethcmn.Hash]*types.Receipt
	receiptMisses int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newFakeNode() *fakeNode {
	return &fakeNode{receipts: make(map[ethcmn.Hash]*types.Receipt)}
}

func (n *fakeNode) PendingNonceAt(_ context.Context, _ ethcmn.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonceQueries++
	return n.base + uint64(len(n.accepted)), nil
}

func (n *fakeNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	cur := n.inFlight.Add(1)
	defer n.inFlight.Add(-1)
	for {
		peak := n.maxInFlight.Load()
		if cur <= peak || n.maxInFlight.CompareAndSwap(peak, cur) {
			break
		}
	}
	if n.delay > 0 {
		time.Sleep(n.delay)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	attempt := len(n.attempts)
	n.attempts = append(n.attempts, tx)
	if n.sendErr != nil {
		if err := n.sendErr(attempt, tx); err != nil {
			return err
		}
	}
	if want := n.base + uint64(len(n.accepted)); tx.Nonce() != want {
		return &rpcError{code: -32000, msg: fmt.Sprintf("nonce too low: have %d want %d", tx.Nonce(), want)}
	}
	n.accepted = append(n.accepted, tx)
	return nil
}

func (n *fakeNode) TransactionReceipt(_ context.Context, hash ethcmn.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.receiptMisses > 0 {
		n.receiptMisses--
		return nil, ethereum.NotFound
	}
	r, ok := n.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (n *fakeNode) acceptedTxs() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.accepted...)
}

// memJournal is an in-memory Journal.
type memJournal struct {
	entries   map[string]map[int]ethcmn.Hash
	recordErr error
}

func newMemJournal() *memJournal {
	return &memJournal{entries: make(map[string]map[int]ethcmn.Hash)}
}

func (j *memJournal) Lookup(job string, index int) (ethcmn.Hash, bool, error) {
	h, ok := j.entries[job][index]
	return h, ok, nil
}

func (j *memJournal) Record(job string, index int, hash ethcmn.Hash) error {
	if j.recordErr != nil {
		return j.recordErr
	}
	if j.entries[job] == nil {
		j.entries[job] = make(map[int]ethcmn.Hash)
	}
	j.entries[job][index] = hash
	return nil
}

type hashList struct {
	mu     sync.Mutex
	labels []string
	hashes []ethcmn.Hash
}

func (h *hashList) Write(label string, hash ethcmn.Hash) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.labels = append(h.labels, label)
	h.hashes = append(h.hashes, hash)
}

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func testAddresses(n int) []ethcmn.Address {
	addrs := make([]ethcmn.Address, n)
	for i := range addrs {
		addrs[i] = ethcmn.BigToAddress(big.NewInt(int64(i + 1)))
	}
	return addrs
}

func testConfig() Config {
	return Config{
		ChunkSize:       DefaultChunkSize,
		GasLimit:        3000000,
		GasPrice:        big.NewInt(1000000000),
		SubmitTimeout:   time.Second,
		RetryBackoff:    time.Millisecond,
		ReceiptTimeout:  time.Second,
		ReceiptInterval: 5 * time.Millisecond,
		Contracts:       contracts.MustLoadEmbedded(),
		Locks:           NewSenderLocks(),
		Logger:          log.NewLogger(log.DiscardHandler()),
	}
}

func newTestDispatcher(t *testing.T, cfg Config, node *fakeNode) (*Dispatcher, *KeySigner) {
	t.Helper()
	signer := NewKeySigner(newTestKey(t), testChainID)
	d, err := New(cfg, node, signer, NewPendingNonceSource(node, signer.Address()))
	require.NoError(t, err)
	return d, signer
}

// issueCall builds a token issuance call carrying no value.
func issueCall(token ethcmn.Address) CallBuilder {
	c := contracts.MustLoadEmbedded()
	return func(chunk []ethcmn.Address, amount units.Amount) (Call, error) {
		data, err := c.PackIssue(chunk, amount.Big())
		if err != nil {
			return Call{}, err
		}
		return Call{To: token, Data: data}, nil
	}
}

// splitEtherCall attaches the chunk's enumerated share as value.
func splitEtherCall(splitter ethcmn.Address) CallBuilder {
	c := contracts.MustLoadEmbedded()
	return func(chunk []ethcmn.Address, amount units.Amount) (Call, error) {
		data, err := c.PackSplitEther(chunk)
		if err != nil {
			return Call{}, err
		}
		value, err := amount.Mul(uint64(len(chunk)))
		if err != nil {
			return Call{}, err
		}
		return Call{To: splitter, Data: data, Value: value}, nil
	}
}
