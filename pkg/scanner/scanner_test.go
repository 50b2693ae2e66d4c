package scanner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screa/keyspace-scanner/internal/config"
	"github.com/screa/keyspace-scanner/internal/crypto"
	"github.com/screa/keyspace-scanner/internal/logger"
	"github.com/screa/keyspace-scanner/pkg/index"
	"github.com/screa/keyspace-scanner/pkg/recorder"
	"github.com/screa/keyspace-scanner/pkg/types"
	"github.com/screa/keyspace-scanner/pkg/worker"
)

const boatAddress = "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"

// boatDeriver behaves like the real deriver, except that one chosen key
// derives the seeded legacy address.
type boatDeriver struct {
	real *crypto.Deriver
	key  types.KeyMaterial
}

func (d boatDeriver) Derive(key types.KeyMaterial) ([]types.DerivedAddress, error) {
	if key == d.key {
		return []types.DerivedAddress{{Scheme: types.SchemeLegacy, Address: boatAddress}}, nil
	}
	return d.real.Derive(key)
}

func (d boatDeriver) WIF(key types.KeyMaterial) (string, error) {
	return d.real.WIF(key)
}

// onceSource yields key first, then random keys
type onceSource struct {
	key  *types.KeyMaterial
	rest *crypto.EntropySource
}

func (s *onceSource) Generate() (types.KeyMaterial, error) {
	if s.key != nil {
		k := *s.key
		s.key = nil
		return k, nil
	}
	return s.rest.Generate()
}

type failingSource struct{}

func (failingSource) Generate() (types.KeyMaterial, error) {
	return types.KeyMaterial{}, crypto.ErrEntropy
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(workers, batch int, rounds int64) *config.Config {
	cfg := config.NewConfig()
	cfg.Workers = workers
	cfg.BatchSize = batch
	cfg.MaxRounds = rounds
	cfg.LogInterval = time.Hour
	return cfg
}

func testDeps(t *testing.T, opener index.Opener) (Deps, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "found.txt")
	return Deps{
		Opener:   opener,
		Deriver:  crypto.NewDeriver(nil),
		Recorder: recorder.New(path, nil),
		Retry:    index.RetryPolicy{InitialInterval: time.Millisecond, MaxElapsed: 20 * time.Millisecond},
	}, path
}

func TestNewScanner(t *testing.T) {
	deps, _ := testDeps(t, index.NewSet("empty"))
	s, err := NewScanner(testConfig(3, 10, 1), logger.Discard(), deps)
	require.NoError(t, err)
	assert.Len(t, s.workers, 3)
	assert.Zero(t, s.Counter().Load())
}

func TestNewScannerDefaultsWorkersWithoutMutatingConfig(t *testing.T) {
	deps, _ := testDeps(t, index.NewSet("empty"))
	cfg := testConfig(0, 10, 1)
	s, err := NewScanner(cfg, logger.Discard(), deps)
	require.NoError(t, err)
	assert.Len(t, s.workers, config.DefaultWorkers())
	assert.Zero(t, cfg.Workers)
}

func TestRunRoundAccounting(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		batch   int
		rounds  int64
	}{
		{"one worker", 1, 100, 3},
		{"several workers", 4, 50, 5},
		{"odd sizes", 3, 37, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := testDeps(t, index.NewSet("empty"))
			s, err := NewScanner(testConfig(tt.workers, tt.batch, tt.rounds), logger.Discard(), deps)
			require.NoError(t, err)

			stats, err := s.Run(context.Background())
			require.NoError(t, err)
			want := uint64(tt.rounds) * uint64(tt.batch) * uint64(tt.workers)
			assert.Equal(t, want, stats.Processed)
			assert.Equal(t, want, s.Counter().Load())
			assert.Equal(t, tt.rounds, stats.Rounds)
			assert.Zero(t, stats.Matches)
		})
	}
}

func TestRunEndToEndBoatMatch(t *testing.T) {
	key := types.KeyMaterial{31: 1}
	deps, path := testDeps(t, index.NewSet("boat", boatAddress))
	deps.Deriver = boatDeriver{real: crypto.NewDeriver(nil), key: key}

	first := true
	deps.NewSource = func() (worker.KeySource, error) {
		rest, err := crypto.NewEntropySource()
		if err != nil {
			return nil, err
		}
		src := &onceSource{rest: rest}
		if first {
			src.key = &key
			first = false
		}
		return src, nil
	}

	s, err := NewScanner(testConfig(2, 100, 2), logger.Discard(), deps)
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Matches)
	assert.Equal(t, uint64(400), stats.Processed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, recorder.Banner+"\n"+
		"Private Key: 0000000000000000000000000000000000000000000000000000000000000001\n"+
		"WIF: KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn\n"+
		"Address: "+boatAddress+"\n", string(data))
}

func TestRunStopsAtRoundBoundary(t *testing.T) {
	deps, _ := testDeps(t, index.NewSet("empty"))
	s, err := NewScanner(testConfig(2, 500, 0), logger.Discard(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	stats, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Positive(t, stats.Rounds)
	// every round completes, so the total is a whole number of rounds
	assert.Equal(t, uint64(stats.Rounds)*500*2, stats.Processed)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	deps, _ := testDeps(t, index.NewSet("empty"))
	s, err := NewScanner(testConfig(2, 10, 0), logger.Discard(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Rounds)
	assert.Zero(t, stats.Processed)
}

func TestRunEntropyFailureIsFatal(t *testing.T) {
	deps, _ := testDeps(t, index.NewSet("empty"))
	deps.NewSource = func() (worker.KeySource, error) { return failingSource{}, nil }

	s, err := NewScanner(testConfig(2, 10, 0), logger.Discard(), deps)
	require.NoError(t, err)
	stats, err := s.Run(context.Background())
	assert.ErrorIs(t, err, crypto.ErrEntropy)
	assert.Equal(t, int64(1), stats.Rounds)
}

func TestRunIndexUnavailableIsFatal(t *testing.T) {
	deps, _ := testDeps(t, index.NewSQLiteOpener(filepath.Join(t.TempDir(), "none.sqlite")))
	s, err := NewScanner(testConfig(2, 10, 0), logger.Discard(), deps)
	require.NoError(t, err)

	stats, err := s.Run(context.Background())
	assert.ErrorIs(t, err, index.ErrIndexUnavailable)
	assert.Zero(t, stats.Processed)
}

type brokenIndex struct{}

func (brokenIndex) Contains(string) (bool, error) { return false, assert.AnError }
func (brokenIndex) Close() error                  { return nil }

type brokenOpener struct{}

func (brokenOpener) Open(context.Context) (index.Index, error) { return brokenIndex{}, nil }
func (brokenOpener) Describe() string                          { return "broken" }

func TestRunRepeatedLookupFailuresEscalate(t *testing.T) {
	deps, _ := testDeps(t, brokenOpener{})
	s, err := NewScanner(testConfig(1, 10, 0), logger.Discard(), deps)
	require.NoError(t, err)

	stats, err := s.Run(context.Background())
	assert.ErrorIs(t, err, index.ErrIndexUnavailable)
	assert.Equal(t, int64(maxLookupFailures), stats.Rounds)
}

func TestPeriodicLogger(t *testing.T) {
	var out syncBuffer
	deps, _ := testDeps(t, index.NewSet("empty"))
	cfg := testConfig(1, 1000, 0)
	cfg.LogInterval = 10 * time.Millisecond

	s, err := NewScanner(cfg, logger.NewWriter(&out), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Run(ctx)
	require.NoError(t, err)

	assert.True(t, strings.Contains(out.String(), "Progress: "), out.String())
	assert.Contains(t, out.String(), "keys checked")
}
