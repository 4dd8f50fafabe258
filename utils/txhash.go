package utils

import (
	"fmt"
	"os"
	"sync"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// TxHashWriter appends "<label> <hash>" lines to a file from a background goroutine.
// A nil *TxHashWriter is valid and discards everything.
type TxHashWriter struct {
	file *os.File
	ch   chan string
	wg   sync.WaitGroup
}

// NewTxHashWriter truncates path and starts the writer goroutine.
func NewTxHashWriter(path string) (*TxHashWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open tx hash file: %w", err)
	}

	w := &TxHashWriter{
		file: f,
		ch:   make(chan string, 1024),
	}

	log.Info("TxHash writer enabled", "path", path)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for line := range w.ch {
			if _, err := w.file.WriteString(line + "\n"); err != nil {
				log.Warn("Failed to write tx hash", "err", err)
			}
		}
	}()

	return w, nil
}

// Write queues a hash, blocking while the buffer is full.
func (w *TxHashWriter) Write(label string, hash ethcmn.Hash) {
	if w == nil {
		return
	}
	w.ch <- label + " " + hash.Hex()
}

// Close flushes pending lines and closes the file.
func (w *TxHashWriter) Close() error {
	if w == nil {
		return nil
	}
	close(w.ch)
	w.wg.Wait()
	return w.file.Close()
}
