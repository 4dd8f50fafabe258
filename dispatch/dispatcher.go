// Package dispatch sends one contract call per chunk of a recipient list, in order,
// from a single signing account.
package dispatch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/okx/ethcards/contracts"
	"github.com/okx/ethcards/units"
	"github.com/okx/ethcards/utils"
)

const (
	DefaultSubmitTimeout   = 30 * time.Second
	DefaultReceiptInterval = utils.DefaultInterval
)

const approveLabel = "approve"

// Call is the contract-specific part of a Request.
type Call struct {
	To    ethcmn.Address
	Data  []byte
	Value units.Amount
}

// CallBuilder encodes the contract call for one chunk. Value, when set, must equal
// amountPerAddress × len(chunk).
type CallBuilder func(chunk []ethcmn.Address, amountPerAddress units.Amount) (Call, error)

// Backend is the node the dispatcher submits to.
type Backend interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	utils.ReceiptReader
}

// Journal remembers which chunks of a job were already sent.
type Journal interface {
	Lookup(job string, index int) (ethcmn.Hash, bool, error)
	Record(job string, index int, hash ethcmn.Hash) error
}

// HashSink receives every hash right after submission.
type HashSink interface {
	Write(label string, hash ethcmn.Hash)
}

type Config struct {
	ChunkSize     int
	GasLimit      uint64
	GasPrice      *big.Int
	SubmitTimeout time.Duration
	// RetryAttempts is how many times a submission is resent after the node could not
	// be reached. Rejections are never retried.
	RetryAttempts int
	RetryBackoff  time.Duration
	// SubmitRate caps submissions per second; 0 means no limit.
	SubmitRate float64
	// ReceiptTimeout bounds the wait for the approve receipt; 0 skips waiting.
	ReceiptTimeout  time.Duration
	ReceiptInterval time.Duration

	Contracts *contracts.Contracts
	Locks     *SenderLocks
	Journal   Journal
	Hashes    HashSink
	Run       *Run
	TxURL     func(ethcmn.Hash) string
	Logger    log.Logger
}

type Dispatcher struct {
	cfg     Config
	backend Backend
	signer  Signer
	nonces  NonceSource
	limiter *rate.Limiter
	log     log.Logger
}

func New(cfg Config, backend Backend, signer Signer, nonces NonceSource) (*Dispatcher, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.GasLimit == 0 || cfg.GasPrice == nil || cfg.GasPrice.Sign() <= 0 {
		return nil, errors.New("gas limit and gas price must be set explicitly")
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = DefaultReceiptInterval
	}
	if cfg.Locks == nil {
		cfg.Locks = processLocks
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root()
	}

	var limiter *rate.Limiter
	if cfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), 1)
	}

	return &Dispatcher{
		cfg:     cfg,
		backend: backend,
		signer:  signer,
		nonces:  nonces,
		limiter: limiter,
		log:     cfg.Logger.New("sender", signer.Address()),
	}, nil
}

// Dispatch sends one transaction per chunk of addresses and returns their hashes in
// chunk order. Chunks go out strictly one after another. On the first failure it
// stops and returns the hashes obtained so far together with a *ChunkError.
func (d *Dispatcher) Dispatch(ctx context.Context, label string, addresses []ethcmn.Address, amountPerAddress units.Amount, build CallBuilder) ([]ethcmn.Hash, error) {
	handles := make([]ethcmn.Hash, 0, ChunkCount(len(addresses), d.cfg.ChunkSize))
	if len(addresses) == 0 {
		return handles, nil
	}

	total, err := amountPerAddress.Mul(uint64(len(addresses)))
	if err != nil {
		return handles, err
	}

	unlock := d.cfg.Locks.Lock(d.signer.Address())
	defer unlock()

	var job string
	if d.cfg.Journal != nil {
		if job, err = d.JobKey(label, addresses, amountPerAddress, build); err != nil {
			return handles, &ChunkError{Index: 0, Handles: handles, Err: err}
		}
	}
	logger := d.log.New("op", label)
	logger.Info("Dispatching", "addresses", len(addresses), "chunks", cap(handles),
		"perAddress", amountPerAddress, "total", total)

	var distributed units.Amount
	for i, chunk := range Chunks(addresses, d.cfg.ChunkSize) {
		share, err := amountPerAddress.Mul(uint64(len(chunk)))
		if err != nil {
			return handles, &ChunkError{Index: i, Handles: handles, Err: err}
		}

		if d.cfg.Journal != nil {
			hash, ok, err := d.cfg.Journal.Lookup(job, i)
			if err != nil {
				return handles, &ChunkError{Index: i, Handles: handles, Err: fmt.Errorf("journal lookup: %w", err)}
			}
			if ok {
				logger.Info("Chunk already dispatched, skipping", "chunk", i, "hash", hash)
				handles = append(handles, hash)
				distributed, _ = distributed.Add(share)
				if d.cfg.Run != nil {
					d.cfg.Run.Advance(i)
				}
				continue
			}
		}

		hash, nonce, err := d.dispatchChunk(ctx, chunk, amountPerAddress, share, build)
		if err != nil {
			logger.Error("Chunk failed", "chunk", i, "lastDispatched", i-1, "err", err)
			return handles, &ChunkError{Index: i, Handles: handles, Err: err}
		}
		handles = append(handles, hash)
		distributed, _ = distributed.Add(share)

		d.recordHash(label, hash)
		if d.cfg.Run != nil {
			d.cfg.Run.Advance(i)
		}
		logger.Info("Chunk dispatched", "chunk", i, "size", len(chunk), "nonce", nonce, "hash", hash, "url", d.txURL(hash))

		if d.cfg.Journal != nil {
			if err := d.cfg.Journal.Record(job, i, hash); err != nil {
				return handles, &ChunkError{Index: i, Handles: handles, Err: fmt.Errorf("sent as %s but not journaled: %w", hash.Hex(), err)}
			}
		}
	}

	if distributed.Cmp(total) != 0 {
		return handles, fmt.Errorf("distributed %s does not add up to %s", distributed, total)
	}
	logger.Info("Dispatch completed", "txs", len(handles), "total", total)
	return handles, nil
}

func (d *Dispatcher) dispatchChunk(ctx context.Context, chunk []ethcmn.Address, amountPerAddress, share units.Amount, build CallBuilder) (ethcmn.Hash, uint64, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return ethcmn.Hash{}, 0, err
		}
	}

	nonce, err := d.nonces.NextNonce(ctx)
	if err != nil {
		return ethcmn.Hash{}, 0, err
	}

	call, err := build(chunk, amountPerAddress)
	if err != nil {
		return ethcmn.Hash{}, nonce, fmt.Errorf("build call: %w", err)
	}
	if !call.Value.IsZero() && call.Value.Cmp(share) != 0 {
		return ethcmn.Hash{}, nonce, fmt.Errorf("call value %s does not match chunk share %s", call.Value, share)
	}

	hash, err := d.send(ctx, Request{
		Nonce:    nonce,
		GasLimit: d.cfg.GasLimit,
		GasPrice: d.cfg.GasPrice,
		To:       call.To,
		Data:     call.Data,
		Value:    call.Value,
	})
	return hash, nonce, err
}

// Approve grants spender an allowance of total on token. When a receipt timeout is
// configured it waits for the transaction to be mined, so a following token split
// sees the allowance. With a journal and a non-empty scope (the JobKey of the split
// the allowance funds) the approval is recorded, and a resumed run for the same scope
// reuses it instead of approving again.
func (d *Dispatcher) Approve(ctx context.Context, token, spender ethcmn.Address, total units.Amount, scope string) (ethcmn.Hash, error) {
	if d.cfg.Contracts == nil {
		return ethcmn.Hash{}, errors.New("approve needs the token ABI")
	}

	unlock := d.cfg.Locks.Lock(d.signer.Address())
	defer unlock()

	data, err := d.cfg.Contracts.PackApprove(spender, total.Big())
	if err != nil {
		return ethcmn.Hash{}, err
	}

	var (
		job    string
		hash   ethcmn.Hash
		logged bool
	)
	if d.cfg.Journal != nil && scope != "" {
		job = d.jobKey(approveLabel+"@"+scope, Call{To: token, Data: data}, nil, total)
		if hash, logged, err = d.cfg.Journal.Lookup(job, 0); err != nil {
			return ethcmn.Hash{}, fmt.Errorf("journal lookup: %w", err)
		}
	}

	if logged {
		d.log.Info("Approve already sent, skipping", "token", token, "spender", spender, "amount", total, "hash", hash)
	} else {
		nonce, err := d.nonces.NextNonce(ctx)
		if err != nil {
			return ethcmn.Hash{}, err
		}
		hash, err = d.send(ctx, Request{
			Nonce:    nonce,
			GasLimit: d.cfg.GasLimit,
			GasPrice: d.cfg.GasPrice,
			To:       token,
			Data:     data,
		})
		if err != nil {
			return ethcmn.Hash{}, fmt.Errorf("approve: %w", err)
		}
		d.recordHash(approveLabel, hash)
		d.log.Info("Approve sent", "token", token, "spender", spender, "amount", total, "nonce", nonce, "hash", hash, "url", d.txURL(hash))
		if job != "" {
			if err := d.cfg.Journal.Record(job, 0, hash); err != nil {
				return hash, fmt.Errorf("approve sent as %s but not journaled: %w", hash.Hex(), err)
			}
		}
	}

	if d.cfg.ReceiptTimeout <= 0 {
		return hash, nil
	}
	receipt, err := utils.WaitReceipt(ctx, d.backend, hash, d.cfg.ReceiptInterval, d.cfg.ReceiptTimeout)
	if err != nil {
		return hash, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return hash, fmt.Errorf("%w: approve %s reverted in block %s", ErrTransactionRejected, hash.Hex(), receipt.BlockNumber)
	}
	d.log.Info("Approve mined", "hash", hash, "block", receipt.BlockNumber)
	return hash, nil
}

// send signs and submits req, committing the nonce once the node has it.
func (d *Dispatcher) send(ctx context.Context, req Request) (ethcmn.Hash, error) {
	tx, err := d.signer.Sign(req)
	if err != nil {
		return ethcmn.Hash{}, err
	}
	if err := d.submit(ctx, tx); err != nil {
		return ethcmn.Hash{}, err
	}
	if c, ok := d.nonces.(NonceCommitter); ok {
		c.Commit(req.Nonce)
	}
	return tx.Hash(), nil
}

// submit sends tx with a bounded wait, resending the same signed bytes when the node
// could not be reached. A node that already holds the transaction counts as success.
func (d *Dispatcher) submit(ctx context.Context, tx *types.Transaction) error {
	for attempt := 0; ; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
		err := d.backend.SendTransaction(sctx, tx)
		cancel()
		if err == nil {
			return nil
		}
		if isAlreadyKnown(err) {
			d.log.Warn("Transaction already known to node", "hash", tx.Hash(), "nonce", tx.Nonce())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = classify(err)
		if !errors.Is(err, ErrNodeUnreachable) || attempt >= d.cfg.RetryAttempts {
			return err
		}
		d.log.Warn("Submission failed, retrying", "hash", tx.Hash(), "nonce", tx.Nonce(),
			"attempt", attempt+1, "max", d.cfg.RetryAttempts, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.cfg.RetryBackoff):
		}
	}
}

// JobKey is the journal key Dispatch uses for these arguments. The first chunk's call
// is built to pin the target contract and its encoded arguments.
func (d *Dispatcher) JobKey(label string, addresses []ethcmn.Address, amountPerAddress units.Amount, build CallBuilder) (string, error) {
	first, err := build(addresses[:min(len(addresses), d.cfg.ChunkSize)], amountPerAddress)
	if err != nil {
		return "", fmt.Errorf("build call: %w", err)
	}
	return d.jobKey(label, first, addresses, amountPerAddress), nil
}

// jobKey identifies a dispatch for the journal. The same label, chain, sender, target
// call, recipients, amount and chunking always map to the same key; changing any of
// them starts a new job.
func (d *Dispatcher) jobKey(label string, target Call, addresses []ethcmn.Address, amount units.Amount) string {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(d.cfg.ChunkSize))

	h := crypto.NewKeccakState()
	h.Write([]byte(label))
	if id := d.signer.ChainID(); id != nil {
		h.Write(ethcmn.BigToHash(id).Bytes())
	}
	h.Write(d.signer.Address().Bytes())
	h.Write(size[:])
	h.Write(target.To.Bytes())
	h.Write(crypto.Keccak256(target.Data))
	h.Write(ethcmn.BigToHash(target.Value.Big()).Bytes())
	h.Write(ethcmn.BigToHash(amount.Big()).Bytes())
	for _, a := range addresses {
		h.Write(a.Bytes())
	}
	var digest ethcmn.Hash
	h.Read(digest[:])
	return label + ":" + digest.Hex()[2:18]
}

func (d *Dispatcher) recordHash(label string, hash ethcmn.Hash) {
	if d.cfg.Hashes != nil {
		d.cfg.Hashes.Write(label, hash)
	}
}

func (d *Dispatcher) txURL(hash ethcmn.Hash) string {
	if d.cfg.TxURL == nil {
		return ""
	}
	return d.cfg.TxURL(hash)
}
