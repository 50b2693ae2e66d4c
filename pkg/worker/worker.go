package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/screa/keyspace-scanner/pkg/index"
	"github.com/screa/keyspace-scanner/pkg/recorder"
	"github.com/screa/keyspace-scanner/pkg/types"
)

// ErrLookup wraps a failed membership query on an open handle
var ErrLookup = errors.New("index lookup failed")

// KeySource yields candidate keys. One source belongs to exactly one worker.
type KeySource interface {
	Generate() (types.KeyMaterial, error)
}

// AddressDeriver maps a key to its addresses and its WIF encoding
type AddressDeriver interface {
	Derive(key types.KeyMaterial) ([]types.DerivedAddress, error)
	WIF(key types.KeyMaterial) (string, error)
}

// MatchSink persists a found key
type MatchSink interface {
	Record(rec types.MatchRecord) error
}

// Config is shared read-only by every worker of a scan
type Config struct {
	Deriver  AddressDeriver
	Opener   index.Opener
	Recorder MatchSink
	Counter  *types.Counter
	Retry    index.RetryPolicy
	Log      *logrus.Entry
}

// Worker runs batches of generate, derive, lookup and record. A worker is
// driven by one goroutine at a time and keeps its own index handle.
type Worker struct {
	id      int
	config  *Config
	source  KeySource
	log     *logrus.Entry
	idx     index.Index
	matches atomic.Int64
}

// NewWorker creates a new worker instance
func NewWorker(id int, config *Config, source KeySource) *Worker {
	log := config.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Worker{
		id:     id,
		config: config,
		source: source,
		log:    log.WithField("worker", id),
	}
}

// ID returns the worker number
func (w *Worker) ID() int {
	return w.id
}

// Matches returns how many hits this worker has found
func (w *Worker) Matches() int64 {
	return w.matches.Load()
}

// ProcessBatch checks batchSize keys and adds the number processed to the
// shared counter once, on return. Rejected keys count as processed. An
// index failure drops the handle so the next batch reopens it.
func (w *Worker) ProcessBatch(ctx context.Context, batchSize int) (processed int, err error) {
	idx, err := w.index(ctx)
	if err != nil {
		return 0, err
	}

	defer func() {
		w.config.Counter.Add(uint64(processed))
	}()

	for processed < batchSize {
		key, err := w.source.Generate()
		if err != nil {
			return processed, err
		}
		processed++

		if err := w.check(idx, key); err != nil {
			w.dropIndex()
			return processed, err
		}
	}
	return processed, nil
}

// Close releases the index handle
func (w *Worker) Close() error {
	if w.idx == nil {
		return nil
	}
	err := w.idx.Close()
	w.idx = nil
	return err
}

// check tests every address derived from key
func (w *Worker) check(idx index.Index, key types.KeyMaterial) error {
	addrs, err := w.config.Deriver.Derive(key)
	if err != nil {
		w.log.WithError(err).Warn("discarding candidate key")
		return nil
	}

	for _, addr := range addrs {
		found, err := idx.Contains(addr.Address)
		if err != nil {
			return fmt.Errorf("%w: worker %d: %v", ErrLookup, w.id, err)
		}
		if found {
			w.onMatch(key, addr)
		}
	}
	return nil
}

func (w *Worker) onMatch(key types.KeyMaterial, addr types.DerivedAddress) {
	w.matches.Add(1)

	wif, err := w.config.Deriver.WIF(key)
	if err != nil {
		w.log.WithError(err).Error("encode wif for matched key")
	}

	w.log.WithFields(logrus.Fields{
		"private_key": key.Hex(),
		"wif":         wif,
		"address":     addr.Address,
		"scheme":      addr.Scheme.String(),
	}).Warn(recorder.Banner)

	// Failures are logged by the recorder; the line above keeps the evidence.
	_ = w.config.Recorder.Record(types.MatchRecord{
		Key:     key,
		WIF:     wif,
		Address: addr.Address,
		Scheme:  addr.Scheme,
	})
}

func (w *Worker) index(ctx context.Context) (index.Index, error) {
	if w.idx != nil {
		return w.idx, nil
	}
	idx, err := index.OpenWithRetry(ctx, w.config.Opener, w.config.Retry, func(err error, next time.Duration) {
		w.log.WithError(err).WithField("retry_in", next).Warn("membership index not ready")
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "worker %d", w.id)
	}
	w.idx = idx
	return idx, nil
}

func (w *Worker) dropIndex() {
	if err := w.Close(); err != nil {
		w.log.WithError(err).Debug("close failed index handle")
	}
}
