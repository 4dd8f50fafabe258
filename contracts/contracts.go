// Package contracts loads the eth-card contract interfaces and encodes calls to them.
package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcmn "github.com/ethereum/go-ethereum/common"

	"github.com/okx/ethcards/utils"
)

//go:embed abi/*.json
var artifacts embed.FS

const (
	OlympiaTokenFile  = "OlympiaToken.json"
	StandardTokenFile = "StandardToken.json"
	EtherSplitterFile = "EtherSplitter.json"
	TokenSplitterFile = "TokenSplitter.json"
)

const (
	MethodIssue       = "issue"
	MethodApprove     = "approve"
	MethodBalanceOf   = "balanceOf"
	MethodSplitEther  = "splitEther"
	MethodSplitTokens = "splitTokens"
)

// Contracts holds the parsed ABIs, loaded once at startup and read-only afterwards.
type Contracts struct {
	OlympiaToken  abi.ABI
	StandardToken abi.ABI
	EtherSplitter abi.ABI
	TokenSplitter abi.ABI
}

type artifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
}

// Load reads the four artifacts from dir, or from the embedded copies when dir is empty.
func Load(dir string) (*Contracts, error) {
	var c Contracts
	for _, t := range []struct {
		file string
		dst  *abi.ABI
	}{
		{OlympiaTokenFile, &c.OlympiaToken},
		{StandardTokenFile, &c.StandardToken},
		{EtherSplitterFile, &c.EtherSplitter},
		{TokenSplitterFile, &c.TokenSplitter},
	} {
		parsed, err := loadArtifact(dir, t.file)
		if err != nil {
			return nil, err
		}
		*t.dst = parsed
	}
	return &c, nil
}

// MustLoadEmbedded returns the built-in ABIs.
func MustLoadEmbedded() *Contracts {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

func loadArtifact(dir, file string) (abi.ABI, error) {
	var r io.ReadCloser
	if dir == "" {
		f, err := artifacts.Open("abi/" + file)
		if err != nil {
			return abi.ABI{}, err
		}
		r = f
	} else {
		f, err := utils.OpenFile(filepath.Join(dir, file))
		if err != nil {
			return abi.ABI{}, err
		}
		r = f
	}
	defer r.Close()

	var a artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return abi.ABI{}, fmt.Errorf("decode artifact %s: %w", file, err)
	}
	if len(a.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("artifact %s has no abi", file)
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", file, err)
	}
	return parsed, nil
}

// PackIssue encodes OlympiaToken.issue(to, amount): mint amount to every address.
func (c *Contracts) PackIssue(to []ethcmn.Address, amount *big.Int) ([]byte, error) {
	return pack(c.OlympiaToken, MethodIssue, to, amount)
}

// PackSplitEther encodes EtherSplitter.splitEther(to); the value sent is shared equally.
func (c *Contracts) PackSplitEther(to []ethcmn.Address) ([]byte, error) {
	return pack(c.EtherSplitter, MethodSplitEther, to)
}

// PackSplitTokens encodes TokenSplitter.splitTokens(to, token, amount), which pulls
// amount per address from the caller's allowance.
func (c *Contracts) PackSplitTokens(to []ethcmn.Address, token ethcmn.Address, amount *big.Int) ([]byte, error) {
	return pack(c.TokenSplitter, MethodSplitTokens, to, token, amount)
}

func (c *Contracts) PackApprove(spender ethcmn.Address, amount *big.Int) ([]byte, error) {
	return pack(c.StandardToken, MethodApprove, spender, amount)
}

func (c *Contracts) PackBalanceOf(owner ethcmn.Address) ([]byte, error) {
	return pack(c.StandardToken, MethodBalanceOf, owner)
}

func (c *Contracts) UnpackBalanceOf(out []byte) (*big.Int, error) {
	values, err := c.StandardToken.Unpack(MethodBalanceOf, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", MethodBalanceOf, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack %s: expected 1 value, got %d", MethodBalanceOf, len(values))
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

func pack(a abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s parameters: %w", method, err)
	}
	return data, nil
}
