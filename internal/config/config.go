package config

import (
	"errors"
	"os"
	"runtime"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/screa/keyspace-scanner/internal/crypto"
	"github.com/screa/keyspace-scanner/internal/logger"
)

// Errors
var (
	ErrNoIndexSpecified = errors.New("must specify either --database or --address-file")
	ErrBothIndexes      = errors.New("--database and --address-file are mutually exclusive")
	ErrBadBatchSize     = errors.New("batch size must be positive")
	ErrBadLogInterval   = errors.New("log interval must be positive")
	ErrBadBloomRate     = errors.New("bloom false positive rate must be in (0, 1)")
)

// Defaults
const (
	DefaultDatabase    = "addresses.sqlite"
	DefaultFoundFile   = "found.txt"
	DefaultBatchSize   = 5000
	DefaultLogInterval = 10 * time.Second
	DefaultOpenTimeout = 30 * time.Second
	DefaultBloomFP     = 1e-9
)

// Config holds the application configuration
type Config struct {
	Workers     int
	BatchSize   int
	LogInterval time.Duration
	MaxRounds   int64 // 0 runs until cancelled

	Database    string
	AddressFile string
	Bloom       bool
	BloomFP     float64
	OpenTimeout time.Duration

	FoundFile string
	Network   string

	Verbose   bool
	LogFile   string
	LogFormat string
	LogConfig string
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:     DefaultWorkers(),
		BatchSize:   DefaultBatchSize,
		LogInterval: DefaultLogInterval,
		Database:    DefaultDatabase,
		BloomFP:     DefaultBloomFP,
		OpenTimeout: DefaultOpenTimeout,
		FoundFile:   DefaultFoundFile,
		Network:     "mainnet",
	}
}

// DefaultWorkers leaves one of the usable CPUs (GOMAXPROCS) for the reporter
// and the rest of the process
func DefaultWorkers() int {
	if n := runtime.GOMAXPROCS(0) - 1; n > 0 {
		return n
	}
	return 1
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database == "" && c.AddressFile == "" {
		return ErrNoIndexSpecified
	}
	if c.Database != "" && c.AddressFile != "" {
		return ErrBothIndexes
	}
	if c.BatchSize <= 0 {
		return ErrBadBatchSize
	}
	if c.LogInterval <= 0 {
		return ErrBadLogInterval
	}
	if c.Bloom && (c.BloomFP <= 0 || c.BloomFP >= 1) {
		return ErrBadBloomRate
	}
	if _, err := crypto.NetworkParams(c.Network); err != nil {
		return err
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers()
	}
	return nil
}

// GetIndexDescription returns a human-readable description of the index source
func (c *Config) GetIndexDescription() string {
	desc := "sqlite: " + c.Database
	if c.AddressFile != "" {
		desc = "address file: " + c.AddressFile
	}
	if c.Bloom {
		desc += " (bloom prefilter)"
	}
	return desc
}

// LogOptions merges the YAML logging file, if any, with command line flags.
// Flags win over the file.
func (c *Config) LogOptions() (logger.Options, error) {
	var opts logger.Options
	if c.LogConfig != "" {
		loaded, err := LoadLogOptions(c.LogConfig)
		if err != nil {
			return opts, err
		}
		opts = loaded
	}
	if c.LogFile != "" {
		opts.File = c.LogFile
	}
	if c.LogFormat != "" {
		opts.Format = c.LogFormat
	}
	if c.Verbose {
		opts.Level = "debug"
	}
	return opts, nil
}

// LoadLogOptions reads logging options from a YAML file
func LoadLogOptions(filename string) (logger.Options, error) {
	var opts logger.Options
	content, err := os.ReadFile(filename)
	if err != nil {
		return opts, pkgerrors.Wrapf(err, "read log config %s", filename)
	}
	if err := yaml.Unmarshal(content, &opts); err != nil {
		return opts, pkgerrors.Wrapf(err, "parse log config %s", filename)
	}
	return opts, nil
}
