package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrNodeUnreachable     = errors.New("node unreachable")
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrSigningFailure      = errors.New("signing failure")
)

// ChunkError reports the chunk a dispatch stopped at. Handles holds the hashes of every
// chunk already submitted; when the chunk itself was sent but could not be journaled,
// its hash is the last one.
type ChunkError struct {
	Index   int
	Handles []ethcmn.Hash
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d dispatched: %v", e.Index, len(e.Handles), e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// classify tags a node error with its kind. A JSON-RPC error object means the node
// answered and refused the transaction; anything else means it could not be reached
// or did not answer in time.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %v", ErrTransactionRejected, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: no answer within timeout: %v", ErrNodeUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrNodeUnreachable, err)
}

// isAlreadyKnown reports whether the node already holds this exact transaction.
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "transaction already exists")
}
