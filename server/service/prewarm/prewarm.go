// Package prewarm generates personalized sections in the background for
// products a shopper is likely to open next.
package prewarm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hrygo/productsense/ai/metrics"
	"github.com/hrygo/productsense/ai/personalization"
)

// Warmer runs one section unless it is already done or running.
// *personalization.Service satisfies it.
type Warmer interface {
	Prewarm(ctx context.Context, key personalization.Key, retrigger bool) error
}

// Config tunes the dispatcher.
type Config struct {
	// Concurrency caps simultaneous runs.
	Concurrency int
	// Rate caps run starts per second.
	Rate float64
	// Timeout bounds one run, including any wait on the gate.
	Timeout time.Duration
}

// Service dispatches background runs. Runs are detached from the request
// that triggered them and live until Close.
type Service struct {
	warmer  Warmer
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.PrometheusExporter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[personalization.Key]bool
}

// New creates a dispatcher.
func New(warmer Warmer, config Config, exporter *metrics.PrometheusExporter) *Service {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.Rate <= 0 {
		config.Rate = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	burst := int(config.Rate)
	if burst < 1 {
		burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		warmer:   warmer,
		sem:      semaphore.NewWeighted(int64(config.Concurrency)),
		limiter:  rate.NewLimiter(rate.Limit(config.Rate), burst),
		timeout:  config.Timeout,
		metrics:  exporter,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[personalization.Key]bool),
	}
}

// Prewarm dispatches runs for every product that is not done or running.
func (s *Service) Prewarm(userID int32, productIDs []int32) {
	s.Dispatch(userID, productIDs, false)
}

// Dispatch schedules one background run per product. Keys already queued in
// this process are skipped. retrigger reruns finished sections with fault
// correction.
func (s *Service) Dispatch(userID int32, productIDs []int32, retrigger bool) {
	if userID <= 0 {
		return
	}
	for _, productID := range productIDs {
		key := personalization.Key{ProductID: productID, UserID: userID}
		if !s.enqueue(key) {
			s.metrics.RecordPrewarm("duplicate")
			continue
		}
		s.metrics.RecordPrewarm("dispatched")
		s.wg.Add(1)
		go s.run(key, retrigger)
	}
}

func (s *Service) run(key personalization.Key, retrigger bool) {
	defer s.wg.Done()
	defer s.dequeue(key)

	if err := s.limiter.Wait(s.ctx); err != nil {
		s.metrics.RecordPrewarm("cancelled")
		return
	}
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.metrics.RecordPrewarm("cancelled")
		return
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.warmer.Prewarm(ctx, key, retrigger); err != nil {
		s.metrics.RecordPrewarm("failed")
		slog.Warn("prewarm: background personalization failed",
			"product_id", key.ProductID,
			"user_id", key.UserID,
			"error", err,
		)
		return
	}
	s.metrics.RecordPrewarm("done")
	slog.Debug("prewarm: background personalization finished",
		"product_id", key.ProductID,
		"user_id", key.UserID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *Service) enqueue(key personalization.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Service) dequeue(key personalization.Key) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// Wait blocks until every dispatched run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels queued and running work and waits for it to stop.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}
