package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/okx/ethcards/cards"
	"github.com/okx/ethcards/journal"
	"github.com/okx/ethcards/utils"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]any{
		"":      log.LevelInfo,
		"INFO":  log.LevelInfo,
		"debug": log.LevelDebug,
		"trace": log.LevelTrace,
		"crit":  log.LevelCrit,
	} {
		lvl, err := parseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, lvl, in)
	}
	_, err := parseLevel("loud")
	require.Error(t, err)
}

func TestPrivateKeyPrecedence(t *testing.T) {
	cfg := &utils.Config{PrivateKey: "from-env"}
	require.Equal(t, "from-arg", privateKey(cfg, []string{"addresses.txt", "from-arg"}))
	require.Equal(t, "from-env", privateKey(cfg, []string{"addresses.txt"}))
}

func TestListJournal(t *testing.T) {
	color.NoColor = true
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Record("issue:aa", 0, ethcmn.Hash{1}))
	require.NoError(t, j.Record("issue:aa", 1, ethcmn.Hash{2}))
	require.NoError(t, j.Record("split-ether:bb", 0, ethcmn.Hash{3}))

	var out bytes.Buffer
	require.NoError(t, listJournal(&out, j, ""))
	require.Equal(t, "issue:aa\t2 chunks\nsplit-ether:bb\t1 chunks\n", out.String())

	out.Reset()
	require.NoError(t, listJournal(&out, j, "issue:aa"))
	require.Equal(t, "0\t"+ethcmn.Hash{1}.Hex()+"\n1\t"+ethcmn.Hash{2}.Hex()+"\n", out.String())

	require.NoError(t, j.Forget("issue:aa"))
	require.Error(t, listJournal(&out, j, "issue:aa"))
}

func TestReportPassesErrorThrough(t *testing.T) {
	boom := errors.New("boom")
	require.ErrorIs(t, report(&cards.Result{FailedChunk: 1, LastChunk: 0}, boom), boom)
	require.ErrorIs(t, report(nil, boom), boom)
	require.NoError(t, report(&cards.Result{FailedChunk: -1, LastChunk: -1}, nil))
}
