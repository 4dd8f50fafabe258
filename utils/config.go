package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"strings"
	"time"

	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/okx/ethcards/units"
)

const EnvPrefix = "ETHCARDS"

const (
	NonceModePending = "pending"
	NonceModeCounter = "counter"
)

// Defaults mirror the Rinkeby deployment the eth-card contracts were set up on.
const (
	DefaultNodeURL              = "https://rinkeby.infura.io/gnosis"
	DefaultOlyAddress           = "0x632843CE66ae383926B9AE173a91f1Fc4B852399"
	DefaultRdnAddress           = "0x3615757011112560521536258c1E7325Ae3b48AE"
	DefaultEtherSplitterAddress = "0xf9D860abb551BCe9799f1D4Eee0267ACb568E93D"
	DefaultTokenSplitterAddress = "0xe1a567b650BC37BCF395003477FaAdA944a7Ab36"
	DefaultGasLimit             = 3000000
	DefaultGasPrice             = "1gwei"
	DefaultOlyPerAddress        = "1ETH"
	DefaultRdnPerAddress        = "1ETH"
	DefaultEtherPerAddress      = "0.0001ETH"
	DefaultExplorerTxURL        = "https://rinkeby.etherscan.io/tx/"
	DefaultChunkSize            = 100
	DefaultSubmitTimeout        = 30 * time.Second
	DefaultReceiptTimeout       = 2 * time.Minute
	DefaultRetryBackoff         = 2 * time.Second
	DefaultTxHashFile           = "./txhashes.log"
	DefaultLogLevel             = "info"
)

// Config is the run configuration. Amounts are kept as strings with a unit suffix
// ("0.0001ETH") and converted once through the accessor methods.
type Config struct {
	NodeURL              string        `mapstructure:"nodeUrl"`
	OlyAddress           string        `mapstructure:"olyAddress"`
	RdnAddress           string        `mapstructure:"rdnAddress"`
	EtherSplitterAddress string        `mapstructure:"etherSplitterAddress"`
	TokenSplitterAddress string        `mapstructure:"tokenSplitterAddress"`
	GasLimit             uint64        `mapstructure:"gasLimit"`
	GasPrice             string        `mapstructure:"gasPrice"`
	OlyPerAddress        string        `mapstructure:"olyPerAddress"`
	RdnPerAddress        string        `mapstructure:"rdnPerAddress"`
	EtherPerAddress      string        `mapstructure:"etherPerAddress"`
	ExplorerTxURL        string        `mapstructure:"explorerTxUrl"`
	ChunkSize            int           `mapstructure:"chunkSize"`
	SubmitTimeout        time.Duration `mapstructure:"submitTimeout"`
	ReceiptTimeout       time.Duration `mapstructure:"receiptTimeout"`
	RetryAttempts        int           `mapstructure:"retryAttempts"`
	RetryBackoff         time.Duration `mapstructure:"retryBackoff"`
	SubmitRate           float64       `mapstructure:"submitRate"` // tx per second, 0 means no limit
	NonceMode            string        `mapstructure:"nonceMode"`
	ABIDir               string        `mapstructure:"abiDir"`
	JournalPath          string        `mapstructure:"journalPath"`
	SaveTxHashes         bool          `mapstructure:"saveTxHashes"`
	TxHashFile           string        `mapstructure:"txHashFile"`
	LogLevel             string        `mapstructure:"logLevel"`
	PrivateKey           string        `mapstructure:"privateKey"`
}

// NewViper returns a viper instance carrying the defaults and ETHCARDS_* env bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("nodeUrl", DefaultNodeURL)
	v.SetDefault("olyAddress", DefaultOlyAddress)
	v.SetDefault("rdnAddress", DefaultRdnAddress)
	v.SetDefault("etherSplitterAddress", DefaultEtherSplitterAddress)
	v.SetDefault("tokenSplitterAddress", DefaultTokenSplitterAddress)
	v.SetDefault("gasLimit", DefaultGasLimit)
	v.SetDefault("gasPrice", DefaultGasPrice)
	v.SetDefault("olyPerAddress", DefaultOlyPerAddress)
	v.SetDefault("rdnPerAddress", DefaultRdnPerAddress)
	v.SetDefault("etherPerAddress", DefaultEtherPerAddress)
	v.SetDefault("explorerTxUrl", DefaultExplorerTxURL)
	v.SetDefault("chunkSize", DefaultChunkSize)
	v.SetDefault("submitTimeout", DefaultSubmitTimeout)
	v.SetDefault("receiptTimeout", DefaultReceiptTimeout)
	v.SetDefault("retryAttempts", 0)
	v.SetDefault("retryBackoff", DefaultRetryBackoff)
	v.SetDefault("submitRate", 0)
	v.SetDefault("nonceMode", NonceModePending)
	v.SetDefault("abiDir", "")
	v.SetDefault("journalPath", "")
	v.SetDefault("saveTxHashes", false)
	v.SetDefault("txHashFile", DefaultTxHashFile)
	v.SetDefault("logLevel", DefaultLogLevel)
	v.SetDefault("privateKey", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("privateKey", EnvPrefix+"_PRIVATE_KEY", EnvPrefix+"_PRIVATEKEY")
	return v
}

// LoadConfig reads the optional config file (json, yaml or toml by extension) on top of
// the defaults. Environment variables such as ETHCARDS_NODEURL take precedence.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the dispatcher cannot run without.
func (c *Config) Validate() error {
	if c.NodeURL == "" {
		return errors.New("nodeUrl must be set")
	}
	for _, f := range []struct{ name, value string }{
		{"olyAddress", c.OlyAddress},
		{"rdnAddress", c.RdnAddress},
		{"etherSplitterAddress", c.EtherSplitterAddress},
		{"tokenSplitterAddress", c.TokenSplitterAddress},
	} {
		if _, err := ParseAddress(f.value); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if c.GasLimit == 0 {
		return errors.New("gasLimit must be greater than 0")
	}
	gasPrice, err := units.Parse(c.GasPrice)
	if err != nil {
		return fmt.Errorf("gasPrice: %w", err)
	}
	if gasPrice.IsZero() {
		return errors.New("gasPrice must be greater than 0")
	}
	for _, f := range []struct{ name, value string }{
		{"olyPerAddress", c.OlyPerAddress},
		{"rdnPerAddress", c.RdnPerAddress},
		{"etherPerAddress", c.EtherPerAddress},
	} {
		if _, err := units.Parse(f.value); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retryAttempts must not be negative, got %d", c.RetryAttempts)
	}
	if c.SubmitRate < 0 {
		return fmt.Errorf("submitRate must not be negative, got %v", c.SubmitRate)
	}
	switch c.NonceMode {
	case NonceModePending, NonceModeCounter:
	default:
		return fmt.Errorf("nonceMode must be %q or %q, got %q", NonceModePending, NonceModeCounter, c.NonceMode)
	}
	return nil
}

func (c *Config) Oly() ethcmn.Address           { return ethcmn.HexToAddress(c.OlyAddress) }
func (c *Config) Rdn() ethcmn.Address           { return ethcmn.HexToAddress(c.RdnAddress) }
func (c *Config) EtherSplitter() ethcmn.Address { return ethcmn.HexToAddress(c.EtherSplitterAddress) }
func (c *Config) TokenSplitter() ethcmn.Address { return ethcmn.HexToAddress(c.TokenSplitterAddress) }

// GasPriceWei returns the configured gas price. Validate must have passed.
func (c *Config) GasPriceWei() *big.Int {
	return units.MustParse(c.GasPrice).Big()
}

func (c *Config) OlyAmount() units.Amount   { return units.MustParse(c.OlyPerAddress) }
func (c *Config) RdnAmount() units.Amount   { return units.MustParse(c.RdnPerAddress) }
func (c *Config) EtherAmount() units.Amount { return units.MustParse(c.EtherPerAddress) }

// TxURL builds the explorer link printed next to each dispatched hash.
func (c *Config) TxURL(hash ethcmn.Hash) string {
	return c.ExplorerTxURL + hash.Hex()
}
