package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/screa/keyspace-scanner/internal/config"
	"github.com/screa/keyspace-scanner/internal/crypto"
	logpkg "github.com/screa/keyspace-scanner/internal/logger"
	"github.com/screa/keyspace-scanner/pkg/index"
	"github.com/screa/keyspace-scanner/pkg/recorder"
	"github.com/screa/keyspace-scanner/pkg/scanner"
)

// Exit codes
const (
	exitUsage            = 1
	exitIndexUnavailable = 2
	exitEntropy          = 3
	exitFatal            = 4
)

var cfg = config.NewConfig()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// newRootCmd binds a fresh default config to the command's flags
func newRootCmd() *cobra.Command {
	cfg = config.NewConfig()

	var rootCmd = &cobra.Command{
		Use:   "keyscan",
		Short: "Random keyspace scanner",
		Long: `Generates random secp256k1 keys, derives their P2PKH, P2SH-P2WPKH and
P2WPKH addresses, and checks each one against a read-only address index.
Matches are appended to the found file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runScanner,
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.Flags().IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Number of parallel workers (default: CPUs - 1)")
	rootCmd.Flags().IntVarP(&cfg.BatchSize, "batch-size", "b", cfg.BatchSize, "Keys per worker per round")
	rootCmd.Flags().DurationVarP(&cfg.LogInterval, "log-interval", "i", cfg.LogInterval, "Progress logging interval")
	rootCmd.Flags().Int64Var(&cfg.MaxRounds, "max-rounds", 0, "Stop after this many rounds (0: run until interrupted)")
	rootCmd.Flags().StringVarP(&cfg.Database, "database", "d", cfg.Database, "SQLite address index")
	rootCmd.Flags().StringVarP(&cfg.AddressFile, "address-file", "a", "", "Plain-text address index, one per line (replaces --database)")
	rootCmd.Flags().BoolVar(&cfg.Bloom, "bloom", false, "Load the index into a bloom prefilter")
	rootCmd.Flags().Float64Var(&cfg.BloomFP, "bloom-fp", cfg.BloomFP, "Bloom prefilter false positive rate")
	rootCmd.Flags().DurationVar(&cfg.OpenTimeout, "open-timeout", cfg.OpenTimeout, "How long to retry opening the index")
	rootCmd.Flags().StringVarP(&cfg.FoundFile, "found-file", "f", cfg.FoundFile, "Append-only match log")
	rootCmd.Flags().StringVarP(&cfg.Network, "network", "n", cfg.Network, "mainnet, testnet3, regtest or signet")
	rootCmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	rootCmd.Flags().StringVarP(&cfg.LogFile, "log-file", "l", "", "Log file (default: stdout)")
	rootCmd.Flags().StringVar(&cfg.LogFormat, "log-format", "", "Log format: text or json")
	rootCmd.Flags().StringVar(&cfg.LogConfig, "log-config", "", "YAML logging config (level, file, format)")

	return rootCmd
}

type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func exitCode(err error) int {
	var ue usageError
	switch {
	case errors.As(err, &ue):
		return exitUsage
	case errors.Is(err, index.ErrIndexUnavailable):
		return exitIndexUnavailable
	case errors.Is(err, crypto.ErrEntropy):
		return exitEntropy
	default:
		return exitFatal
	}
}

func runScanner(cmd *cobra.Command, args []string) error {
	if cfg.AddressFile != "" && !cmd.Flags().Changed("database") {
		cfg.Database = ""
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return usageError{err}
	}

	// Setup logging
	opts, err := cfg.LogOptions()
	if err != nil {
		return usageError{err}
	}
	logger, err := logpkg.Configure(opts)
	if err != nil {
		return usageError{err}
	}
	defer logger.Close()

	params, _ := crypto.NetworkParams(cfg.Network)

	// Set up signal handling for Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retry := index.RetryPolicy{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      cfg.OpenTimeout,
	}

	opener, err := buildOpener(ctx, logger, retry)
	if err != nil {
		logger.WithError(err).Error("membership index unavailable")
		return err
	}

	logger.Printf("Starting keyspace scanner with %d workers...", cfg.Workers)
	logger.Printf("Index: %s", cfg.GetIndexDescription())
	logger.Printf("Network: %s", params.Name)
	logger.Printf("Found file: %s", cfg.FoundFile)

	s, err := scanner.NewScanner(cfg, logger, scanner.Deps{
		Opener:   opener,
		Deriver:  crypto.NewDeriver(params),
		Recorder: recorder.New(cfg.FoundFile, logger.Component("recorder")),
		Retry:    retry,
	})
	if err != nil {
		logger.WithError(err).Error("could not start scanner")
		return err
	}

	stats, err := s.Run(ctx)
	logger.Printf("Checked %d keys in %d rounds, %d matches, %v (%.2f keys/sec)",
		stats.Processed, stats.Rounds, stats.Matches, stats.Duration.Round(time.Millisecond), stats.Rate())
	if err != nil {
		logger.WithError(err).Error("scan aborted")
		return err
	}
	return nil
}

// buildOpener checks the index once up front, retrying within the open timeout
func buildOpener(ctx context.Context, logger *logpkg.Logger, retry index.RetryPolicy) (index.Opener, error) {
	var opener index.Opener
	if cfg.AddressFile != "" {
		set, err := index.LoadSet(cfg.AddressFile)
		if err != nil {
			return nil, err
		}
		logger.Printf("Loaded %d addresses from %s", set.Len(), cfg.AddressFile)
		opener = set
	} else {
		opener = index.NewSQLiteOpener(cfg.Database)
		probe, err := index.OpenWithRetry(ctx, opener, retry, func(err error, next time.Duration) {
			logger.WithError(err).Warnf("index not ready, retrying in %v", next)
		})
		if err != nil {
			return nil, err
		}
		probe.Close()
	}

	if cfg.Bloom {
		filtered, err := index.NewFilteredOpener(ctx, opener, cfg.BloomFP)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", index.ErrIndexUnavailable, err)
		}
		logger.Printf("Bloom prefilter holds %d addresses", filtered.Size())
		opener = filtered
	}
	return opener, nil
}
