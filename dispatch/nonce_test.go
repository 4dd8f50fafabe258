package dispatch

import (
	"context"
	"errors"
	"testing"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type staticNonces struct {
	nonce   uint64
	err     error
	queries int
}

func (s *staticNonces) PendingNonceAt(context.Context, ethcmn.Address) (uint64, error) {
	s.queries++
	return s.nonce, s.err
}

func TestPendingNonceSourceAsksEveryTime(t *testing.T) {
	node := &staticNonces{nonce: 4}
	src := NewPendingNonceSource(node, ethcmn.Address{})

	for i := 0; i < 3; i++ {
		n, err := src.NextNonce(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(4), n)
	}
	require.Equal(t, 3, node.queries)
}

func TestPendingNonceSourceUnreachable(t *testing.T) {
	src := NewPendingNonceSource(&staticNonces{err: errors.New("connection refused")}, ethcmn.Address{})
	_, err := src.NextNonce(context.Background())
	require.ErrorIs(t, err, ErrNodeUnreachable)
}

func TestCounterNonceSource(t *testing.T) {
	node := &staticNonces{nonce: 10}
	src := NewCounterNonceSource(node, ethcmn.Address{})
	ctx := context.Background()

	n, err := src.NextNonce(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), n)

	// not committed yet, so the same nonce comes back
	n, err = src.NextNonce(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), n)

	src.Commit(10)
	n, err = src.NextNonce(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), n)

	// stale commits do not move the counter back
	src.Commit(3)
	n, err = src.NextNonce(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(11), n)

	require.Equal(t, 1, node.queries)
}

func TestCounterNonceSourceRetriesSeed(t *testing.T) {
	node := &staticNonces{err: errors.New("connection refused")}
	src := NewCounterNonceSource(node, ethcmn.Address{})

	_, err := src.NextNonce(context.Background())
	require.ErrorIs(t, err, ErrNodeUnreachable)

	node.err = nil
	node.nonce = 2
	n, err := src.NextNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
}
