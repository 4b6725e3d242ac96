// Package config defines the configuration surface for a node: data_dir,
// chain_id, validator_set, producer_key, the three phase timeout bases and
// their delta, snapshot_interval, max_txs_per_block, plus the ambient
// settings a node carries alongside its domain fields (bind and advertise
// address, log level). Bound from file/env/flags via viper, decoded with
// mapstructure the way the run command wires its config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/tendergraph-io/node/common"
	"github.com/tendergraph-io/node/crypto"
	"github.com/tendergraph-io/node/types"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the
	// validator's private key.
	DefaultKeyfile = "priv_key"

	// DefaultValidatorsFile is the default name of the file containing the
	// genesis validator set.
	DefaultValidatorsFile = "validators.json"
)

// Default configuration values.
const (
	DefaultLogLevel           = "debug"
	DefaultBindAddr           = "127.0.0.1:1337"
	DefaultServiceAddr        = "127.0.0.1:8000"
	DefaultTCPTimeout         = 1000 * time.Millisecond
	DefaultMaxPool            = 2
	DefaultChainID            = "tendergraph-local"
	DefaultProposeTimeoutBase = 2 * time.Second
	DefaultPrevoteTimeoutBase = 1 * time.Second
	DefaultCommitTimeoutBase  = 1 * time.Second
	DefaultTimeoutDelta       = 500 * time.Millisecond
	DefaultSnapshotInterval   = 100
	DefaultMaxTxsPerBlock     = 1000
	DefaultSuspendLimit       = 10
)

// Config contains all the configuration properties of a node.
type Config struct {
	// DataDir is the top-level directory containing node configuration and
	// Store artifacts.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// BindAddr is the local address:port this node listens for consensus
	// traffic on.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is the address advertised to other validators, when
	// BindAddr is not itself reachable.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP status service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP status service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout applied to consensus RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// ChainID is bound into the genesis block and carried in chain.meta.
	ChainID string `mapstructure:"chain-id"`

	// ProposeTimeoutBase, PrevoteTimeoutBase, CommitTimeoutBase and
	// TimeoutDelta parameterize timeout(round) = base + delta*round per
	// phase.
	ProposeTimeoutBase time.Duration `mapstructure:"propose-timeout"`
	PrevoteTimeoutBase time.Duration `mapstructure:"prevote-timeout"`
	CommitTimeoutBase  time.Duration `mapstructure:"commit-timeout"`
	TimeoutDelta       time.Duration `mapstructure:"timeout-delta"`

	// SnapshotInterval is the number of blocks between full state
	// snapshots.
	SnapshotInterval uint64 `mapstructure:"snapshot-interval"`

	// MaxTxsPerBlock bounds how many transactions produce_block drains
	// from the mempool at once.
	MaxTxsPerBlock int `mapstructure:"max-txs-per-block"`

	// SuspendLimit is the number of consecutive rounds at one height that
	// may time out without quorum before the engine reports itself
	// suspended. 0 disables the check.
	SuspendLimit int `mapstructure:"suspend-limit"`

	// ValidatorsFile names the JSON file (relative to DataDir, unless
	// absolute) describing the genesis validator set.
	ValidatorsFile string `mapstructure:"validators-file"`

	// Moniker is this node's friendly display name.
	Moniker string `mapstructure:"moniker"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           DefaultLogLevel,
		BindAddr:           DefaultBindAddr,
		ServiceAddr:        DefaultServiceAddr,
		MaxPool:            DefaultMaxPool,
		TCPTimeout:         DefaultTCPTimeout,
		ChainID:            DefaultChainID,
		ProposeTimeoutBase: DefaultProposeTimeoutBase,
		PrevoteTimeoutBase: DefaultPrevoteTimeoutBase,
		CommitTimeoutBase:  DefaultCommitTimeoutBase,
		TimeoutDelta:       DefaultTimeoutDelta,
		SnapshotInterval:   DefaultSnapshotInterval,
		MaxTxsPerBlock:     DefaultMaxTxsPerBlock,
		SuspendLimit:       DefaultSuspendLimit,
		ValidatorsFile:     DefaultValidatorsFile,
	}
}

// DecodeConfig populates dst from a generic map (as produced by viper's
// AllSettings), decoding flags/env/file layers through mapstructure
// before constructing the final Config.
func DecodeConfig(raw map[string]interface{}, dst *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// ValidatorsPath returns the resolved path to the validator set file.
func (c *Config) ValidatorsPath() string {
	if filepath.IsAbs(c.ValidatorsFile) {
		return c.ValidatorsFile
	}
	return filepath.Join(c.DataDir, c.ValidatorsFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "node".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "node")
}

// DefaultDataDir returns the default directory for top-level configuration,
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		switch runtime.GOOS {
		case "darwin":
			return filepath.Join(home, ".Tendergraph")
		case "windows":
			return filepath.Join(home, "AppData", "Roaming", "Tendergraph")
		default:
			return filepath.Join(home, ".tendergraph")
		}
	}
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}

// validatorJSON is the on-disk representation of one genesis validator.
// Address is the validator's consensus-listen address; it is only needed
// by the node package's broadcaster to know where to dial, not by the
// validator set itself.
type validatorJSON struct {
	PubKey  string `json:"pub_key"`
	Weight  int    `json:"weight"`
	Address string `json:"address"`
}

// LoadValidatorSet reads and parses the JSON validator list at path into a
// types.ValidatorSet, plus an address book mapping each validator's ID to
// its consensus-listen address. Public keys are hex strings as produced by
// types.ValidatorID.Hex.
func LoadValidatorSet(path string) (*types.ValidatorSet, map[types.ValidatorID]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading validator set: %w", err)
	}

	var entries []validatorJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("parsing validator set: %w", err)
	}

	validators := make([]types.Validator, 0, len(entries))
	addrs := make(map[types.ValidatorID]string, len(entries))
	for _, e := range entries {
		raw, err := common.DecodeFromString(e.PubKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding validator pubkey %q: %w", e.PubKey, err)
		}
		id, ok := types.ValidatorIDFromBytes(raw)
		if !ok {
			return nil, nil, fmt.Errorf("validator pubkey %q is not %d bytes", e.PubKey, crypto.PubKeySize)
		}
		weight := e.Weight
		if weight <= 0 {
			weight = 1
		}
		validators = append(validators, types.Validator{ID: id, Weight: weight})
		if e.Address != "" {
			addrs[id] = e.Address
		}
	}

	if len(validators) == 0 {
		return nil, nil, fmt.Errorf("validator set at %s is empty", path)
	}

	return types.NewValidatorSet(validators), addrs, nil
}
