// Package cards sets up participant eth-cards: it funds every address with ether,
// RDN and OLY through the splitter contracts, and reports their balances.
package cards

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/ethcards/contracts"
	"github.com/okx/ethcards/dispatch"
	"github.com/okx/ethcards/journal"
	"github.com/okx/ethcards/utils"
)

// Chain is everything an eth-card run reads from: the node, the contract ABIs and the
// configuration. It is built once in main and passed down.
type Chain struct {
	client    utils.Client
	contracts *contracts.Contracts
	cfg       *utils.Config
	log       log.Logger
}

func NewChain(client utils.Client, c *contracts.Contracts, cfg *utils.Config, logger log.Logger) *Chain {
	if logger == nil {
		logger = log.Root()
	}
	return &Chain{client: client, contracts: c, cfg: cfg, log: logger}
}

// Session is a signing account bound to a Chain. Runs started from the same Session
// share its nonce source, journal and tx-hash log.
type Session struct {
	chain   *Chain
	signer  *dispatch.KeySigner
	nonces  dispatch.NonceSource
	journal *journal.Journal
	hashes  *utils.TxHashWriter
	log     log.Logger
}

// Open parses privateKey and prepares the optional journal and tx-hash log.
func (c *Chain) Open(ctx context.Context, privateKey string) (*Session, error) {
	key, err := utils.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dispatch.ErrSigningFailure, err)
	}
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query chain id: %v", dispatch.ErrNodeUnreachable, err)
	}
	signer := dispatch.NewKeySigner(key, chainID)

	s := &Session{
		chain:  c,
		signer: signer,
		log:    c.log.New("sender", signer.Address()),
	}
	switch c.cfg.NonceMode {
	case utils.NonceModeCounter:
		s.nonces = dispatch.NewCounterNonceSource(c.client, signer.Address())
	default:
		s.nonces = dispatch.NewPendingNonceSource(c.client, signer.Address())
	}

	if c.cfg.JournalPath != "" {
		if s.journal, err = journal.Open(c.cfg.JournalPath); err != nil {
			return nil, err
		}
		s.log.Info("Resuming from journal", "path", c.cfg.JournalPath)
	}
	if c.cfg.SaveTxHashes {
		if s.hashes, err = utils.NewTxHashWriter(c.cfg.TxHashFile); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.log.Debug("Session opened", "chainID", chainID, "nonceMode", c.cfg.NonceMode)
	return s, nil
}

func (s *Session) Address() string {
	return s.signer.Address().Hex()
}

// Close flushes the tx-hash log and closes the journal.
func (s *Session) Close() error {
	var firstErr error
	if err := s.hashes.Close(); err != nil {
		firstErr = err
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newDispatcher builds a dispatcher reporting into run.
func (s *Session) newDispatcher(run *dispatch.Run) (*dispatch.Dispatcher, error) {
	cfg := s.chain.cfg
	dcfg := dispatch.Config{
		ChunkSize:      cfg.ChunkSize,
		GasLimit:       cfg.GasLimit,
		GasPrice:       cfg.GasPriceWei(),
		SubmitTimeout:  cfg.SubmitTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBackoff:   cfg.RetryBackoff,
		SubmitRate:     cfg.SubmitRate,
		ReceiptTimeout: cfg.ReceiptTimeout,
		Contracts:      s.chain.contracts,
		Run:            run,
		TxURL:          cfg.TxURL,
		Logger:         s.chain.log,
	}
	if s.journal != nil {
		dcfg.Journal = s.journal
	}
	if s.hashes != nil {
		dcfg.Hashes = s.hashes
	}
	return dispatch.New(dcfg, s.chain.client, s.signer, s.nonces)
}
