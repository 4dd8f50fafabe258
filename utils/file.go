package utils

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrFileNotFound     = errors.New("file not found")
	ErrMalformedAddress = errors.New("malformed address")
	ErrMalformedKey     = errors.New("malformed private key")
)

// OpenFile opens path, mapping a missing file onto ErrFileNotFound.
func OpenFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return f, err
}

// ReadAddressesFromFile reads one address per line, keeping file order.
// Lines are trimmed and blank lines skipped.
func ReadAddressesFromFile(path string) ([]ethcmn.Address, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		if err := f.Close(); err != nil {
			log.Warn("Failed to close address file", "path", path, "err", err)
		}
	}(f)

	log.Debug("Loading addresses", "path", path)
	addrs, err := ReadAddresses(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info("Addresses loaded", "path", path, "count", len(addrs))
	return addrs, nil
}

// ReadAddresses is ReadAddressesFromFile over an arbitrary reader.
func ReadAddresses(r io.Reader) ([]ethcmn.Address, error) {
	var addrs []ethcmn.Address
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		addr, err := ParseAddress(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		addrs = append(addrs, addr)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return addrs, nil
}

// ParseAddress accepts exactly "0x" followed by 40 hex digits, surrounding space ignored.
// Mixed-case input is not checksum-verified; the returned address prints checksummed.
func ParseAddress(s string) (ethcmn.Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !ethcmn.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return ethcmn.Address{}, fmt.Errorf("%w: %q", ErrMalformedAddress, s)
	}
	return ethcmn.HexToAddress(s), nil
}

// ParsePrivateKey reads a hex secp256k1 key with or without the 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return key, nil
}
