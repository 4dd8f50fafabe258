package dispatch

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/okx/ethcards/units"
)

// Request is an unsigned transaction to a contract.
type Request struct {
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
	To       ethcmn.Address
	Data     []byte
	Value    units.Amount
}

// Signer turns a Request into a signed transaction with a fixed key.
type Signer interface {
	Address() ethcmn.Address
	ChainID() *big.Int
	Sign(req Request) (*types.Transaction, error)
}

// KeySigner signs legacy transactions with replay protection for one chain.
// Signatures are deterministic (RFC 6979), so the same request always yields the
// same transaction hash.
type KeySigner struct {
	key    *ecdsa.PrivateKey
	addr   ethcmn.Address
	signer types.Signer
}

func NewKeySigner(key *ecdsa.PrivateKey, chainID *big.Int) *KeySigner {
	return &KeySigner{
		key:    key,
		addr:   crypto.PubkeyToAddress(key.PublicKey),
		signer: types.NewLondonSigner(chainID),
	}
}

func (s *KeySigner) Address() ethcmn.Address {
	return s.addr
}

// ChainID is the chain the signatures are replay-protected for.
func (s *KeySigner) ChainID() *big.Int {
	return s.signer.ChainID()
}

func (s *KeySigner) Sign(req Request) (*types.Transaction, error) {
	if req.GasLimit == 0 || req.GasPrice == nil || req.GasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: gas limit and gas price must be set", ErrSigningFailure)
	}
	to := req.To
	unsignedTx := types.NewTx(&types.LegacyTx{
		Nonce:    req.Nonce,
		GasPrice: req.GasPrice,
		Gas:      req.GasLimit,
		To:       &to,
		Value:    req.Value.Big(),
		Data:     req.Data,
	})

	signedTx, err := types.SignTx(unsignedTx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	return signedTx, nil
}
