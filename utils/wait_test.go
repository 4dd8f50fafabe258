package utils

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type slowReceipts struct {
	misses int
	calls  int
	err    error
}

func (s *slowReceipts) TransactionReceipt(context.Context, ethcmn.Hash) (*types.Receipt, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.misses {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(9)}, nil
}

func TestWaitReceipt(t *testing.T) {
	r := &slowReceipts{misses: 3}
	receipt, err := WaitReceipt(context.Background(), r, ethcmn.Hash{1}, time.Millisecond, time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(9), receipt.BlockNumber.Int64())
	require.Equal(t, 4, r.calls)
}

func TestWaitReceiptTimeout(t *testing.T) {
	r := &slowReceipts{misses: 1 << 30}
	_, err := WaitReceipt(context.Background(), r, ethcmn.Hash{1}, time.Millisecond, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeoutReached)
}

func TestWaitReceiptNodeError(t *testing.T) {
	boom := errors.New("boom")
	_, err := WaitReceipt(context.Background(), &slowReceipts{err: boom}, ethcmn.Hash{1}, time.Millisecond, time.Second)
	require.ErrorIs(t, err, boom)
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Poll(ctx, time.Millisecond, time.Second, func(context.Context) (bool, error) { return false, nil })
	require.ErrorIs(t, err, context.Canceled)
}
