package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// DefaultInterval is the receipt polling interval
	DefaultInterval = 1 * time.Second
)

var (
	// ErrTimeoutReached is returned when the deadline passes before the
	// condition is met
	ErrTimeoutReached = errors.New("timeout has been reached")
)

// ConditionFunc is polled until it reports done or fails
type ConditionFunc func(ctx context.Context) (done bool, err error)

// Poll retries the given condition with the given interval until it succeeds,
// fails, or the given deadline expires.
func Poll(ctx context.Context, interval, deadline time.Duration, condition ConditionFunc) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		ok, err := condition(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return ErrTimeoutReached
			}
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				log.Debug("Poll timeout reached", "deadline", deadline)
				return ErrTimeoutReached
			}
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// ReceiptReader is the part of Client WaitReceipt needs
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash ethcmn.Hash) (*types.Receipt, error)
}

// WaitReceipt polls for the receipt of txHash until it is mined or timeout expires.
func WaitReceipt(ctx context.Context, client ReceiptReader, txHash ethcmn.Hash, interval, timeout time.Duration) (*types.Receipt, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var receipt *types.Receipt
	pollErr := Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if pollErr != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", txHash.Hex(), pollErr)
	}
	log.Debug("Transaction mined", "hash", txHash, "block", receipt.BlockNumber, "status", receipt.Status)
	return receipt, nil
}
