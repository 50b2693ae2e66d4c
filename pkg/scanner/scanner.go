package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/screa/keyspace-scanner/internal/config"
	"github.com/screa/keyspace-scanner/internal/crypto"
	"github.com/screa/keyspace-scanner/internal/logger"
	"github.com/screa/keyspace-scanner/pkg/index"
	"github.com/screa/keyspace-scanner/pkg/types"
	"github.com/screa/keyspace-scanner/pkg/worker"
)

// maxLookupFailures is how many rounds in a row one worker may fail a
// lookup before the scan gives up on the index.
const maxLookupFailures = 3

// Deps are the collaborators a scan is built from
type Deps struct {
	Opener    index.Opener
	Deriver   worker.AddressDeriver
	Recorder  worker.MatchSink
	NewSource func() (worker.KeySource, error)
	Retry     index.RetryPolicy
}

// Scanner runs rounds of parallel batches until cancelled
type Scanner struct {
	config  *config.Config
	logger  *logger.Logger
	log     *logrus.Entry
	counter *types.Counter
	workers []*worker.Worker
	rounds  atomic.Int64
}

// batchJob carries one worker's batch through the pool
type batchJob struct {
	ctx       context.Context
	w         *worker.Worker
	size      int
	processed int
	err       error
	wg        *sync.WaitGroup
}

// NewScanner creates the worker set. Each worker gets its own key source.
func NewScanner(cfg *config.Config, log *logger.Logger, deps Deps) (*Scanner, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers()
	}
	if deps.NewSource == nil {
		deps.NewSource = func() (worker.KeySource, error) {
			src, err := crypto.NewEntropySource()
			if err != nil {
				return nil, err
			}
			return src, nil
		}
	}

	s := &Scanner{
		config:  cfg,
		logger:  log,
		log:     log.Component("scanner"),
		counter: types.NewCounter(),
	}

	wcfg := &worker.Config{
		Deriver:  deps.Deriver,
		Opener:   deps.Opener,
		Recorder: deps.Recorder,
		Counter:  s.counter,
		Retry:    deps.Retry,
		Log:      log.Component("worker"),
	}
	for i := 0; i < workers; i++ {
		src, err := deps.NewSource()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "key source for worker %d", i)
		}
		s.workers = append(s.workers, worker.NewWorker(i, wcfg, src))
	}
	return s, nil
}

// Counter returns the shared processed-key tally
func (s *Scanner) Counter() *types.Counter {
	return s.counter
}

// Run scans until ctx is cancelled, MaxRounds is reached, or a shared
// dependency fails. Cancellation is only observed between rounds.
func (s *Scanner) Run(ctx context.Context) (types.Stats, error) {
	start := time.Now()
	defer s.closeWorkers()

	pool, err := ants.NewPoolWithFunc(len(s.workers), runBatch, ants.WithPreAlloc(true))
	if err != nil {
		return s.stats(start), pkgerrors.Wrap(err, "create worker pool")
	}
	defer pool.Release()

	logDone := make(chan struct{})
	var logWG sync.WaitGroup
	logWG.Add(1)
	go func() {
		defer logWG.Done()
		s.periodicLogger(logDone, start)
	}()
	defer func() {
		close(logDone)
		logWG.Wait()
	}()

	s.log.WithFields(logrus.Fields{
		"workers":    len(s.workers),
		"batch_size": s.config.BatchSize,
	}).Info("scan started")

	failures := make([]int, len(s.workers))
	for {
		if ctx.Err() != nil {
			s.log.Info("stop requested, scan finished cleanly")
			return s.stats(start), nil
		}
		if s.config.MaxRounds > 0 && s.rounds.Load() >= s.config.MaxRounds {
			return s.stats(start), nil
		}

		jobs, err := s.round(ctx, pool)
		s.rounds.Add(1)
		if err != nil {
			return s.stats(start), err
		}
		if err := s.inspect(ctx, jobs, failures); err != nil {
			return s.stats(start), err
		}
	}
}

// round runs one batch per worker and waits for all of them
func (s *Scanner) round(ctx context.Context, pool *ants.PoolWithFunc) ([]*batchJob, error) {
	var wg sync.WaitGroup
	jobs := make([]*batchJob, len(s.workers))
	for i, w := range s.workers {
		jobs[i] = &batchJob{ctx: ctx, w: w, size: s.config.BatchSize, wg: &wg}
		wg.Add(1)
		if err := pool.Invoke(jobs[i]); err != nil {
			wg.Done()
			wg.Wait()
			return nil, pkgerrors.Wrap(err, "dispatch batch")
		}
	}
	wg.Wait()
	return jobs, nil
}

func runBatch(arg interface{}) {
	job := arg.(*batchJob)
	defer job.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			job.err = fmt.Errorf("worker %d panicked: %v", job.w.ID(), r)
		}
	}()
	job.processed, job.err = job.w.ProcessBatch(job.ctx, job.size)
}

// inspect absorbs per-batch errors and returns the first one that must stop the scan
func (s *Scanner) inspect(ctx context.Context, jobs []*batchJob, failures []int) error {
	for i, job := range jobs {
		if job.err == nil {
			failures[i] = 0
			continue
		}

		switch {
		case errors.Is(job.err, crypto.ErrEntropy):
			return job.err
		case ctx.Err() != nil:
			// cancelled while waiting for the index; not a failure
			continue
		case errors.Is(job.err, worker.ErrLookup):
			failures[i]++
			s.log.WithError(job.err).WithField("worker", job.w.ID()).Warn("index lookup failed, reopening")
			if failures[i] >= maxLookupFailures {
				return fmt.Errorf("%w: %v", index.ErrIndexUnavailable, job.err)
			}
		default:
			return job.err
		}
	}
	return nil
}

// periodicLogger logs scan progress at regular intervals
func (s *Scanner) periodicLogger(done <-chan struct{}, start time.Time) {
	ticker := time.NewTicker(s.config.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st := s.stats(start)
			s.log.WithFields(logrus.Fields{
				"rounds":  st.Rounds,
				"matches": st.Matches,
			}).Infof("Progress: %d keys checked, %.2f keys/sec", st.Processed, st.Rate())
		case <-done:
			return
		}
	}
}

func (s *Scanner) stats(start time.Time) types.Stats {
	var matches int64
	for _, w := range s.workers {
		matches += w.Matches()
	}
	return types.Stats{
		Rounds:    s.rounds.Load(),
		Processed: s.counter.Load(),
		Matches:   matches,
		Duration:  time.Since(start),
	}
}

func (s *Scanner) closeWorkers() {
	for _, w := range s.workers {
		if err := w.Close(); err != nil {
			s.log.WithError(err).WithField("worker", w.ID()).Debug("close index handle")
		}
	}
}
