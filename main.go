package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/okx/ethcards/cards"
	"github.com/okx/ethcards/contracts"
	"github.com/okx/ethcards/journal"
	"github.com/okx/ethcards/utils"
)

const (
	FlagConfigFile = "config-file"
	FlagLogLevel   = "log-level"
	FlagJournal    = "journal"
	FlagChunkSize  = "chunk-size"
)

var (
	configPath  string
	logLevel    string
	journalPath string
	chunkSize   int
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "ethcards",
		Short: "Fund participant eth-cards with ether, RDN and OLY",
		Long: `A command-line tool that funds a list of participant addresses through the
ether splitter, token splitter and OLY token contracts, in batches of one
transaction per chunk of addresses.

The private key is taken from the last argument, or from ETHCARDS_PRIVATE_KEY
(a .env file in the working directory is loaded first).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, FlagConfigFile, "f", "", "Path to a json, yaml or toml configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, FlagLogLevel, "", "Log level: trace, debug, info, warn, error, crit")
	rootCmd.PersistentFlags().StringVar(&journalPath, FlagJournal, "", "Journal file used to resume an interrupted run")
	rootCmd.PersistentFlags().IntVar(&chunkSize, FlagChunkSize, 0, "Addresses per transaction (default from config, 100)")

	rootCmd.AddCommand(
		fillCmd(),
		splitEtherCmd(),
		splitTokensCmd(),
		issueCmd(),
		approveCmd(),
		statusCmd(),
		journalCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error("Command failed", "err", err)
		os.Exit(1)
	}
}

// ========================================
// Commands
// ========================================

func fillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fill <addresses-file> [private-key]",
		Short: "Approve RDN, then split ether, split RDN and issue OLY to every address",
		Long: `Run the whole eth-card setup for every address in the file: approve the token
splitter for the RDN of all participants and wait for it to be mined, then split
ether, split RDN and issue OLY, one transaction per chunk of addresses.

Example:
  ethcards fill ./addresses.txt -f ./config.yaml --journal ./fill.db`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args, func(ctx context.Context, s *cards.Session, addrs []ethcmn.Address) error {
				return report(s.Fill(ctx, addrs))
			})
		},
	}
}

func splitEtherCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split-ether <addresses-file> [private-key]",
		Short: "Send etherPerAddress to every address through the ether splitter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args, func(ctx context.Context, s *cards.Session, addrs []ethcmn.Address) error {
				return report(s.SplitEther(ctx, addrs))
			})
		},
	}
}

func splitTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split-tokens <addresses-file> [private-key]",
		Short: "Approve the token splitter, then send rdnPerAddress RDN to every address",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args, func(ctx context.Context, s *cards.Session, addrs []ethcmn.Address) error {
				return report(s.SplitTokens(ctx, addrs))
			})
		},
	}
}

func issueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issue <addresses-file> [private-key]",
		Short: "Issue olyPerAddress OLY to every address",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args, func(ctx context.Context, s *cards.Session, addrs []ethcmn.Address) error {
				return report(s.Issue(ctx, addrs))
			})
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <count> [private-key]",
		Short: "Approve the token splitter for count × rdnPerAddress RDN",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count < 0 {
				return fmt.Errorf("count must be a non-negative integer, got %q", args[0])
			}
			chain, cfg, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			s, err := chain.Open(cmd.Context(), privateKey(cfg, args))
			if err != nil {
				return err
			}
			defer s.Close()
			return report(s.Approve(cmd.Context(), count))
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <addresses-file>",
		Short: "Print the OLY, RDN and ether balance of every address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, _, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			addrs, err := utils.ReadAddressesFromFile(args[0])
			if err != nil {
				return err
			}
			statuses, err := chain.Status(cmd.Context(), addrs)
			if err != nil {
				return err
			}
			return cards.WriteStatus(os.Stdout, statuses)
		},
	}
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect or clear the resume journal",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [job]",
			Short: "List the journaled jobs, or the chunks recorded for one job",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var job string
				if len(args) == 1 {
					job = args[0]
				}
				return withJournal(func(j *journal.Journal) error {
					return listJournal(os.Stdout, j, job)
				})
			},
		},
		&cobra.Command{
			Use:   "forget <job>",
			Short: "Drop a job so the next run sends all its chunks again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withJournal(func(j *journal.Journal) error {
					if err := j.Forget(args[0]); err != nil {
						return err
					}
					log.Info("Journal job forgotten", "job", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// ========================================
// Helpers
// ========================================

// report logs where a failed run stopped, so it can be resumed with a journal.
func report(res *cards.Result, err error) error {
	if err != nil && res != nil && res.FailedChunk >= 0 {
		log.Error("Run stopped", "failedChunk", res.FailedChunk, "lastDispatchedChunk", res.LastChunk,
			"splitEther", len(res.SplitEther), "splitTokens", len(res.SplitTokens), "issue", len(res.Issue))
		if journalPath == "" {
			log.Warn("No journal configured, a rerun sends every chunk again")
		}
	}
	return err
}

// withJournal opens the journal named by --journal or journalPath in the config.
func withJournal(fn func(*journal.Journal) error) error {
	cfg, err := utils.LoadConfig(utils.NewViper(), configPath)
	if err != nil {
		return err
	}
	path := cfg.JournalPath
	if journalPath != "" {
		path = journalPath
	}
	if path == "" {
		return errors.New("no journal configured, pass --journal or set journalPath")
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()
	return fn(j)
}

// listJournal prints every job with its chunk count, or the chunks of job.
func listJournal(w io.Writer, j *journal.Journal, job string) error {
	if job != "" {
		entries, err := j.Entries(job)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("job %q is not in the journal", job)
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\n", e.Index, e.Hash.Hex())
		}
		return nil
	}

	jobs, err := j.Jobs()
	if err != nil {
		return err
	}
	bold := color.New(color.Bold)
	for _, name := range jobs {
		entries, err := j.Entries(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d chunks\n", bold.Sprint(name), len(entries))
	}
	return nil
}

// setup loads the configuration, installs the logger and connects to the node.
func setup(ctx context.Context) (*cards.Chain, *utils.Config, error) {
	v := utils.NewViper()
	cfg, err := utils.LoadConfig(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if journalPath != "" {
		cfg.JournalPath = journalPath
	}
	if chunkSize != 0 {
		cfg.ChunkSize = chunkSize
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	lvl, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, !color.NoColor)))
	logger := log.Root().New("run", uuid.NewString()[:8])

	abis, err := contracts.Load(cfg.ABIDir)
	if err != nil {
		return nil, nil, err
	}
	client, err := utils.NewEthClient(ctx, cfg.NodeURL, cfg.SubmitTimeout)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to node", "url", cfg.NodeURL, "chunkSize", cfg.ChunkSize, "nonceMode", cfg.NonceMode)
	return cards.NewChain(client, abis, cfg, logger), cfg, nil
}

// withSession reads the address file in args[0], opens a session with the key in
// args[1] or the configured one, and runs fn.
func withSession(ctx context.Context, args []string, fn func(context.Context, *cards.Session, []ethcmn.Address) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	addrs, err := utils.ReadAddressesFromFile(args[0])
	if err != nil {
		return err
	}
	s, err := chain.Open(ctx, privateKey(cfg, args))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("Failed to close session", "err", err)
		}
	}()
	return fn(ctx, s, addrs)
}

func privateKey(cfg *utils.Config, args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return cfg.PrivateKey
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "", "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
