package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/toil-engine/toil"
)

// ExpiryScheduler runs the rolling-window expiry sweep on a fixed cadence,
// daily in production. It mutates only the is_expired flag and is safe to
// run while requests are in flight.
type ExpiryScheduler struct {
	Job      *toil.ExpiryJob
	Interval time.Duration
	Log      zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   bool
}

func NewExpiryScheduler(job *toil.ExpiryJob, log zerolog.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		Job:      job,
		Interval: 24 * time.Hour,
		Log:      log,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler. The first sweep runs immediately so a restart
// never postpones expiry by a full interval.
func (s *ExpiryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs {
		return
	}
	s.runs = true

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()
	s.Log.Info().Dur("interval", s.Interval).Msg("expiry scheduler started")
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runs {
		return
	}
	s.runs = false
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.Log.Info().Msg("expiry scheduler stopped")
}

func (s *ExpiryScheduler) run() {
	defer s.wg.Done()

	s.sweep()
	for {
		select {
		case <-s.stop:
			return
		case <-s.ticker.C:
			s.sweep()
		}
	}
}

func (s *ExpiryScheduler) sweep() {
	summary, err := s.Job.Run(context.Background())
	if err != nil {
		s.Log.Error().Err(err).Msg("expiry sweep failed")
		return
	}
	if summary.EntriesExpired > 0 {
		s.Log.Info().
			Int("allocations", summary.AllocationsAged).
			Int("entries", summary.EntriesExpired).
			Msg("expiry sweep done")
	}
}
